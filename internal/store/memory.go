package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"goblin-core/internal/model"
	"goblin-core/pkg/errno"
)

// MemStore 进程内账本实现。
// 单元测试和无 Postgres 的开发模式使用; 语义与 GormStore 对齐:
// 按排序后的账户键加锁 (超时 -> Busy), fn 成功才提交, 版本号写回兜底。
type MemStore struct {
	mu sync.Mutex // 保护下面所有 map, 锁持有时间只覆盖拷贝/提交

	players     map[string]*model.Player // by user_id
	memos       map[string]string        // memo -> user_id
	listings    map[uint64]*model.Listing
	deposits    map[string]*model.DepositRecord // by external_tx_id
	withdrawals map[uint64]*model.Withdrawal
	ledger      []model.LedgerEntry
	outbox      []*model.OutboxMessage

	nextPlayerID     uint64
	nextListingID    uint64
	nextWithdrawalID uint64
	nextOutboxID     uint64

	accountLocks sync.Map // user_id -> chan struct{} (容量 1 的信号量)
	lockTimeout  time.Duration
}

func NewMemStore(lockTimeout time.Duration) *MemStore {
	return &MemStore{
		players:     make(map[string]*model.Player),
		memos:       make(map[string]string),
		listings:    make(map[uint64]*model.Listing),
		deposits:    make(map[string]*model.DepositRecord),
		withdrawals: make(map[uint64]*model.Withdrawal),
		lockTimeout: lockTimeout,
	}
}

func (s *MemStore) sem(key string) chan struct{} {
	v, _ := s.accountLocks.LoadOrStore(key, make(chan struct{}, 1))
	return v.(chan struct{})
}

func (s *MemStore) acquire(ctx context.Context, key string) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case s.sem(key) <- struct{}{}:
		return nil
	case <-timer.C:
		return errno.ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemStore) releaseLock(key string) {
	<-s.sem(key)
}

// Atomic 按全局固定顺序获取账户锁, 把所有写入暂存在 memTx 里,
// fn 成功后一次性提交。任一步失败则什么都不落地。
func (s *MemStore) Atomic(ctx context.Context, keys []string, fn func(tx Tx) error) error {
	sorted := SortKeys(keys)

	acquired := make([]string, 0, len(sorted))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			s.releaseLock(acquired[i])
		}
	}
	for _, k := range sorted {
		if err := s.acquire(ctx, k); err != nil {
			release()
			return err
		}
		acquired = append(acquired, k)
	}
	defer release()

	tx := &memTx{
		s:            s,
		players:      make(map[string]*stagedPlayer),
		listings:     make(map[uint64]*model.Listing),
		newListings:  make(map[uint64]bool),
		deposits:     make(map[string]*model.DepositRecord),
		newDeposits:  make(map[string]bool),
		withdrawals:  make(map[uint64]*model.Withdrawal),
		newWithdraws: make(map[uint64]bool),
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemStore) Player(ctx context.Context, userID string) (*model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) PlayerIDByMemo(ctx context.Context, memo string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.memos[memo]
	if !ok {
		return "", ErrNotFound
	}
	return uid, nil
}

func (s *MemStore) Listing(ctx context.Context, id uint64) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemStore) OpenListings(ctx context.Context, limit int) ([]model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Listing, 0)
	for _, l := range s.listings {
		if l.Status == model.ListingOpen {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) Withdrawal(ctx context.Context, id uint64) (*model.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemStore) UnmatchedDeposits(ctx context.Context, limit int) ([]model.DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DepositRecord, 0)
	for _, d := range s.deposits {
		if !d.Credited {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) CountUnmatchedDeposits(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, d := range s.deposits {
		if !d.Credited {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) PendingOutbox(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OutboxMessage, 0)
	for _, m := range s.outbox {
		if m.Status == "PENDING" {
			out = append(out, *m)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemStore) MarkOutboxSent(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.outbox {
		if m.ID == id {
			m.Status = "SENT"
			return nil
		}
	}
	return ErrNotFound
}

// stagedPlayer 记录加载时的版本号, 提交时校验。
type stagedPlayer struct {
	player      *model.Player
	baseVersion uint64
	created     bool
	dirty       bool
}

type memTx struct {
	s *MemStore

	players      map[string]*stagedPlayer
	listings     map[uint64]*model.Listing
	newListings  map[uint64]bool
	deposits     map[string]*model.DepositRecord
	newDeposits  map[string]bool
	withdrawals  map[uint64]*model.Withdrawal
	newWithdraws map[uint64]bool
	ledger       []model.LedgerEntry
	outbox       []*model.OutboxMessage
}

func (t *memTx) PlayerForUpdate(userID string) (*model.Player, error) {
	if sp, ok := t.players[userID]; ok {
		return sp.player, nil
	}
	t.s.mu.Lock()
	p, ok := t.s.players[userID]
	if !ok {
		t.s.mu.Unlock()
		return nil, ErrNotFound
	}
	cp := *p
	t.s.mu.Unlock()

	t.players[userID] = &stagedPlayer{player: &cp, baseVersion: cp.Version}
	return &cp, nil
}

func (t *memTx) PlayerByMemo(memo string) (*model.Player, error) {
	// 先看本事务内新建的玩家
	for _, sp := range t.players {
		if sp.player.Memo == memo {
			return sp.player, nil
		}
	}
	t.s.mu.Lock()
	uid, ok := t.s.memos[memo]
	t.s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return t.PlayerForUpdate(uid)
}

func (t *memTx) CreatePlayer(p *model.Player) error {
	t.s.mu.Lock()
	_, userTaken := t.s.players[p.UserID]
	_, memoTaken := t.s.memos[p.Memo]
	if !userTaken && !memoTaken {
		t.s.nextPlayerID++
		p.ID = t.s.nextPlayerID
	}
	t.s.mu.Unlock()
	if userTaken || memoTaken {
		return ErrDuplicate
	}
	if sp, ok := t.players[p.UserID]; ok && sp.player != nil {
		return ErrDuplicate
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	t.players[p.UserID] = &stagedPlayer{player: p, created: true, dirty: true}
	return nil
}

func (t *memTx) SavePlayer(p *model.Player) error {
	sp, ok := t.players[p.UserID]
	if !ok || sp.player != p {
		// Save 必须针对本事务内加载/创建的对象
		return ErrNotFound
	}
	if !sp.created {
		p.Version++
	}
	p.UpdatedAt = time.Now()
	sp.dirty = true
	return nil
}

func (t *memTx) ListingForUpdate(id uint64) (*model.Listing, error) {
	if l, ok := t.listings[id]; ok {
		return l, nil
	}
	t.s.mu.Lock()
	l, ok := t.s.listings[id]
	if !ok {
		t.s.mu.Unlock()
		return nil, ErrNotFound
	}
	cp := *l
	t.s.mu.Unlock()

	t.listings[id] = &cp
	return &cp, nil
}

func (t *memTx) CreateListing(l *model.Listing) error {
	t.s.mu.Lock()
	t.s.nextListingID++
	l.ID = t.s.nextListingID
	t.s.mu.Unlock()

	now := time.Now()
	l.CreatedAt = now
	l.UpdatedAt = now
	t.listings[l.ID] = l
	t.newListings[l.ID] = true
	return nil
}

func (t *memTx) SaveListing(l *model.Listing) error {
	if _, ok := t.listings[l.ID]; !ok {
		return ErrNotFound
	}
	l.UpdatedAt = time.Now()
	t.listings[l.ID] = l
	return nil
}

func (t *memTx) DepositByTxID(externalTxID string) (*model.DepositRecord, error) {
	if d, ok := t.deposits[externalTxID]; ok {
		return d, nil
	}
	t.s.mu.Lock()
	d, ok := t.s.deposits[externalTxID]
	if !ok {
		t.s.mu.Unlock()
		return nil, ErrNotFound
	}
	cp := *d
	t.s.mu.Unlock()

	t.deposits[externalTxID] = &cp
	return &cp, nil
}

func (t *memTx) CreateDeposit(d *model.DepositRecord) error {
	t.s.mu.Lock()
	_, exists := t.s.deposits[d.ExternalTxID]
	t.s.mu.Unlock()
	if exists {
		return ErrDuplicate
	}
	if _, ok := t.deposits[d.ExternalTxID]; ok {
		return ErrDuplicate
	}
	d.CreatedAt = time.Now()
	t.deposits[d.ExternalTxID] = d
	t.newDeposits[d.ExternalTxID] = true
	return nil
}

func (t *memTx) SaveDeposit(d *model.DepositRecord) error {
	if _, ok := t.deposits[d.ExternalTxID]; !ok {
		return ErrNotFound
	}
	t.deposits[d.ExternalTxID] = d
	return nil
}

func (t *memTx) WithdrawalForUpdate(id uint64) (*model.Withdrawal, error) {
	if w, ok := t.withdrawals[id]; ok {
		return w, nil
	}
	t.s.mu.Lock()
	w, ok := t.s.withdrawals[id]
	if !ok {
		t.s.mu.Unlock()
		return nil, ErrNotFound
	}
	cp := *w
	t.s.mu.Unlock()

	t.withdrawals[id] = &cp
	return &cp, nil
}

func (t *memTx) CreateWithdrawal(w *model.Withdrawal) error {
	t.s.mu.Lock()
	t.s.nextWithdrawalID++
	w.ID = t.s.nextWithdrawalID
	t.s.mu.Unlock()

	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now
	t.withdrawals[w.ID] = w
	t.newWithdraws[w.ID] = true
	return nil
}

func (t *memTx) SaveWithdrawal(w *model.Withdrawal) error {
	if _, ok := t.withdrawals[w.ID]; !ok {
		return ErrNotFound
	}
	w.UpdatedAt = time.Now()
	t.withdrawals[w.ID] = w
	return nil
}

func (t *memTx) AppendLedger(e *model.LedgerEntry) error {
	e.CreatedAt = time.Now()
	t.ledger = append(t.ledger, *e)
	return nil
}

func (t *memTx) Outbox(topic, key string, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.outbox = append(t.outbox, &model.OutboxMessage{
		Topic:   topic,
		Key:     key,
		Payload: payloadBytes,
		Status:  "PENDING",
	})
	return nil
}

// commit 把暂存写入一次性应用到 store。
// 账户锁仍被持有, 版本校验只是防御实现错误 (漏传锁键) 的兜底。
func (t *memTx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	// 1. 版本校验
	for uid, sp := range t.players {
		if sp.created {
			if _, exists := t.s.players[uid]; exists {
				return ErrDuplicate
			}
			if _, exists := t.s.memos[sp.player.Memo]; exists {
				return ErrDuplicate
			}
			continue
		}
		if !sp.dirty {
			continue
		}
		cur, ok := t.s.players[uid]
		if !ok {
			return ErrNotFound
		}
		if cur.Version != sp.baseVersion {
			return errno.ErrConflict
		}
	}

	// 2. 应用
	for uid, sp := range t.players {
		if !sp.dirty && !sp.created {
			continue
		}
		cp := *sp.player
		t.s.players[uid] = &cp
		if sp.created {
			t.s.memos[cp.Memo] = uid
		}
	}
	for id, l := range t.listings {
		cp := *l
		t.s.listings[id] = &cp
	}
	for txID, d := range t.deposits {
		cp := *d
		t.s.deposits[txID] = &cp
	}
	for id, w := range t.withdrawals {
		cp := *w
		t.s.withdrawals[id] = &cp
	}
	t.s.ledger = append(t.s.ledger, t.ledger...)
	for _, m := range t.outbox {
		t.s.nextOutboxID++
		m.ID = t.s.nextOutboxID
		m.CreatedAt = time.Now()
		t.s.outbox = append(t.s.outbox, m)
	}
	return nil
}
