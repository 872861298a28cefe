package commands

// Command to run a single dry-run scan cycle
// Fetches, filters and classifies against a throw-away state and prints
// the alerts that would be sent. Nothing is delivered or saved.

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"onion-alerts/internal/features/notify"
	"onion-alerts/internal/state"
)

var scanWithState bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one dry-run scan cycle and print the alerts",
	Long:  `Run one scan cycle against live feeds without delivering anything. By default the cycle starts from an empty state; --with-state seeds it from the saved snapshot (read-only).`,
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanWithState, "with-state", false, "Seed the dry run from the saved state (never written back)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := state.New(cfg.Billing.FreeAlerts, cfg.Retention())
	if scanWithState {
		seeded, persister, err := openState(cfg)
		if err != nil {
			return err
		}
		persister.Close()
		store.Restore(seeded.Snapshot(time.Now()), time.Now())
	}

	sc := newScanner(cfg, store, nil, nil, true)
	report, err := sc.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("scan cycle failed: %w", err)
	}

	fmt.Printf("Scan finished in %s: %d observations, %d candidates, %d unsafe, %d feed errors\n",
		report.Duration.Round(time.Millisecond), report.Observations, report.Candidates, report.Unsafe, report.FeedErrors)
	if len(report.Alerts) == 0 {
		fmt.Println("No alerts this cycle")
		return nil
	}
	for _, a := range report.Alerts {
		o := a.Observation
		fmt.Printf("\n[%s] %s %s\n", a.Level, o.Chain, o.Symbol)
		fmt.Printf("  CA:        %s\n", o.TokenAddress)
		fmt.Printf("  Liquidity: %s  FDV: %s  Vol 5m: %s (x%.2f)\n",
			notify.FormatUSD(o.LiquidityUSD), notify.FormatUSD(o.FDVUSD), notify.FormatUSD(o.Volume5mUSD), a.SpikeRatio)
		fmt.Printf("  Link:      %s\n", o.DeepLink())
	}
	return nil
}
