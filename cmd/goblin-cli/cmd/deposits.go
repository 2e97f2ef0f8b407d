package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var depositsLimit int

var depositsCmd = &cobra.Command{
	Use:   "deposits",
	Short: "未匹配入金队列",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		records, err := st.UnmatchedDeposits(context.Background(), depositsLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("未匹配入金: 0 条")
			return nil
		}
		for _, d := range records {
			fmt.Printf("%-40s memo=%-8s amount=%-12s observed=%s\n",
				d.ExternalTxID, d.MemoObserved, d.Amount.String(), d.ObservedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	depositsCmd.Flags().IntVar(&depositsLimit, "limit", 100, "最多显示多少条")
	rootCmd.AddCommand(depositsCmd)
}
