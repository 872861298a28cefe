package commands

// Command to verify a payment from the shell
// Looks the transaction up on the explorer, activates the subscription and
// saves the state

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"onion-alerts/bots_monitor"
	logging "onion-alerts/internal/infra/log"
)

var (
	paymentUserID int64
	paymentTxHash string
)

var paymentCmd = &cobra.Command{
	Use:   "verify-payment",
	Short: "Verify a subscription payment and activate it",
	Long:  `Look up a USDT transfer on BscScan, check recipient and amount, and extend the user's subscription. The state file is updated on success.`,
	RunE:  runVerifyPayment,
}

func init() {
	paymentCmd.Flags().Int64Var(&paymentUserID, "user", 0, "Telegram user id")
	paymentCmd.Flags().StringVar(&paymentTxHash, "tx", "", "Transaction hash (0x...)")
	_ = paymentCmd.MarkFlagRequired("user")
	_ = paymentCmd.MarkFlagRequired("tx")
}

func runVerifyPayment(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync()

	store, persister, err := openState(cfg)
	if err != nil {
		return err
	}
	defer persister.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	u, amount, err := newPayments(cfg, store).Verify(ctx, paymentUserID, paymentTxHash, time.Now())
	if err != nil {
		logging.LogError("Payment verification failed",
			zap.Int64("user_id", paymentUserID),
			zap.String("tx", paymentTxHash),
			zap.Error(err))
		return err
	}

	if err := bots_monitor.SaveState(store, persister); err != nil {
		return fmt.Errorf("payment confirmed but state not saved: %w", err)
	}

	fmt.Printf("Payment of $%s confirmed for user %d, active until %s\n",
		amount.StringFixed(2), u.ID, u.PaidUntil.UTC().Format(time.RFC3339))
	return nil
}
