package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 服务启动时 Init 之后可能再次调用 InitBusinessMetrics,
// 指标必须只注册一次, 否则默认 registry 会 panic。
func TestInitIdempotent(t *testing.T) {
	require.NotPanics(t, func() {
		Init()
		InitBusinessMetrics()
		Init()
	})

	require.NotNil(t, Business)

	// 重复调用不会替换掉已注册的指标实例
	first := Business
	InitBusinessMetrics()
	assert.Same(t, first, Business)

	// 指标可用
	Business.PlayersRegisteredTotal.Inc()
	Business.WithdrawalsTotal.WithLabelValues("confirmed").Inc()
}
