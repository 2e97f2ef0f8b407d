package cmd

import (
	"context"
	"errors"
	"fmt"

	"goblin-core/internal/model"
	"goblin-core/internal/store"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var adjustReason string

// adjust 手工调 TON 余额 (比如未匹配入金人工核对后补账)。
// 负数扣减时不允许把余额打成负的。
var adjustCmd = &cobra.Command{
	Use:   "adjust <user_id> <amount>",
	Short: "手工调整玩家 TON 余额",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		if amount.IsZero() {
			return errors.New("amount must be non-zero")
		}
		if adjustReason == "" {
			return errors.New("--reason is required")
		}

		st, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		err = st.Atomic(ctx, []string{userID}, func(tx store.Tx) error {
			p, err := tx.PlayerForUpdate(userID)
			if err != nil {
				return err
			}
			next := p.TonBalance.Add(amount)
			if next.IsNegative() {
				return fmt.Errorf("would make balance negative: %s", next.String())
			}
			p.TonBalance = next
			if err := tx.AppendLedger(&model.LedgerEntry{
				PlayerID:    userID,
				Type:        model.EntryAdjustment,
				Amount:      amount,
				Description: adjustReason,
			}); err != nil {
				return err
			}
			return tx.SavePlayer(p)
		})
		if err != nil {
			return err
		}
		fmt.Printf("adjusted %s by %s TON\n", userID, amount.String())
		return nil
	},
}

func init() {
	adjustCmd.Flags().StringVar(&adjustReason, "reason", "", "调账原因 (写进流水)")
	rootCmd.AddCommand(adjustCmd)
}
