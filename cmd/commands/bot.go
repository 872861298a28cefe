package commands

// Command to run the full bot
// Restores state, starts the scan loop, the command handler, the periodic
// save and the metrics server
// Implements graceful shutdown with a final state flush

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"onion-alerts/bots_monitor"
	"onion-alerts/internal/clients_api/bscscan"
	"onion-alerts/internal/clients_api/dexscreener"
	"onion-alerts/internal/clients_api/goplus"
	"onion-alerts/internal/features/classify"
	"onion-alerts/internal/features/ingest"
	"onion-alerts/internal/features/notify"
	"onion-alerts/internal/features/payments"
	"onion-alerts/internal/features/safety"
	"onion-alerts/internal/features/scanner"
	"onion-alerts/internal/infra/config"
	storage "onion-alerts/internal/infra/fs"
	logging "onion-alerts/internal/infra/log"
	"onion-alerts/internal/infra/metrics"
	"onion-alerts/internal/state"
)

const shutdownWait = 10 * time.Second

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the alert bot (scanner + Telegram commands)",
	Long:  `Run the complete bot: the scan loop, the Telegram command handler, periodic state saves and the optional metrics server.`,
	RunE:  runBot,
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync()
	if err := cfg.RequireTelegram(); err != nil {
		logging.LogError("Invalid config", zap.Error(err))
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, persister, err := openState(cfg)
	if err != nil {
		return err
	}
	defer persister.Close()

	sendTimeout := time.Duration(cfg.Telegram.SendTimeout) * time.Second
	httpClient := &http.Client{Timeout: bots_monitor.UpdatesTimeout + sendTimeout}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Telegram.BotToken, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		logging.LogError("Failed to initialize bot", zap.Error(err))
		return fmt.Errorf("failed to initialize bot: %w", err)
	}
	logging.LogSuccess("Bot authorized", zap.String("username", bot.Self.UserName))

	m := metrics.New()
	notifier := notify.NewNotifier(bots_monitor.NewTelegramMessenger(bot, 25), notify.Options{
		PauseEvery:  cfg.Telegram.PauseEvery,
		Pause:       time.Duration(cfg.Telegram.PauseMs) * time.Millisecond,
		SendTimeout: sendTimeout,
	})
	sc := newScanner(cfg, store, notifier, m, false)
	handler := bots_monitor.NewCommandHandler(bot, store, newPayments(cfg, store), bots_monitor.CommandOptions{
		IsAdmin:   cfg.IsAdmin,
		BSCWallet: cfg.Billing.BSCWallet,
		SOLWallet: cfg.Billing.SOLWallet,
	})

	// monitors mutate the store; saver only reads it. Both must be stopped
	// before the final flush.
	var monitors, saver sync.WaitGroup

	monitors.Add(1)
	go func() {
		defer monitors.Done()
		bots_monitor.RunScanMonitor(ctx, sc, cfg.ScanInterval(), time.Duration(cfg.Scanner.MaxBackoff)*time.Second)
	}()

	monitors.Add(1)
	go func() {
		defer monitors.Done()
		bots_monitor.RunCommandHandler(ctx, bot, handler)
	}()

	saver.Add(1)
	go func() {
		defer saver.Done()
		bots_monitor.RunSaveMonitor(ctx, store, persister, time.Duration(cfg.Store.SaveInterval)*time.Second)
	}()

	if cfg.Metrics.Listen != "" {
		monitors.Add(1)
		go func() {
			defer monitors.Done()
			if err := m.Serve(ctx, cfg.Metrics.Listen); err != nil {
				logging.LogError("Metrics server failed", zap.Error(err))
			}
		}()
	}

	logging.LogSuccess("Bot is running",
		zap.Strings("chains", cfg.Scanner.Chains),
		zap.Int("users", len(store.Users())),
		zap.Int("trackedTokens", store.TokenCount()))

	<-ctx.Done()
	logging.LogInfo("Shutdown signal received, gracefully stopping all monitors...")

	cancel()
	saver.Wait()

	stopped, err := bots_monitor.FlushAfter(&monitors, store, persister, shutdownWait)
	if stopped {
		logging.LogSuccess("All monitors stopped gracefully")
	} else {
		logging.LogWarn("Timeout waiting for monitors to stop, forcing shutdown")
	}
	if err != nil {
		logging.LogError("Final save failed", zap.Error(err))
	} else {
		logging.LogInfo("State flushed")
	}

	return nil
}

// openState opens the durable store and restores the in-memory state from it.
// An unreadable snapshot is fatal so it is never overwritten by an empty one.
func openState(cfg *config.Config) (*state.Store, storage.Persister, error) {
	if err := os.MkdirAll(cfg.App.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	persister, err := storage.Open(cfg.Store.Driver, cfg.StorePath())
	if err != nil {
		logging.LogError("Failed to open state store", zap.String("path", cfg.StorePath()), zap.Error(err))
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}

	snap, err := persister.Load()
	if err != nil {
		persister.Close()
		logging.LogError("Failed to load state", zap.String("path", cfg.StorePath()), zap.Error(err))
		return nil, nil, fmt.Errorf("failed to load state: %w", err)
	}

	store := state.New(cfg.Billing.FreeAlerts, cfg.Retention())
	store.Restore(snap, time.Now())
	logging.LogInfo("State restored",
		zap.String("driver", cfg.Store.Driver),
		zap.String("path", cfg.StorePath()),
		zap.Int("users", len(store.Users())),
		zap.Int("tokens", store.TokenCount()))
	return store, persister, nil
}

func newScanner(cfg *config.Config, store *state.Store, notifier *notify.Notifier, m *metrics.Metrics, dryRun bool) *scanner.Scanner {
	feed := dexscreener.NewClient(dexscreener.Options{
		BaseURL: cfg.Scanner.DexScreenerURL,
		Timeout: time.Duration(cfg.Scanner.RequestTimeout) * time.Second,
	})

	oracle := safety.NewGoPlusOracle(
		goplus.NewClient(cfg.Safety.BaseURL, time.Duration(cfg.Safety.Timeout)*time.Second),
		cfg.SafetyChainIDs(),
	)
	filter := safety.NewFilter(oracle, safety.Options{
		Enabled:        cfg.Safety.Enabled,
		CacheTTL:       time.Duration(cfg.Safety.CacheTTL) * time.Minute,
		Timeout:        time.Duration(cfg.Safety.Timeout) * time.Second,
		FailOpenChains: cfg.FailOpenChains(),
	})

	t := cfg.Thresholds
	engine := classify.Engine{
		Thresholds: classify.Thresholds{
			MinLiquidity:    t.MinLiquidity,
			MinFDV:          t.MinFDV,
			MinVolume5m:     t.MinVolume5m,
			MediumLiquidity: t.MediumLiquidity,
			MediumFDV:       t.MediumFDV,
			MediumVolume5m:  t.MediumVolume5m,
			MaxSpikeRatio:   t.MaxSpikeRatio,
			LargeBuyUSD:     t.LargeBuyUSD,
		},
		RepeatSynthetic: cfg.Classifier.RepeatSynthetic,
	}

	return scanner.New(feed, filter, engine, notifier, store, m, scanner.Options{
		Chains:          cfg.ScanChains(),
		MaxPairsPerFeed: cfg.Scanner.MaxPairsPerFeed,
		Ingest:          ingest.Options{SymbolMaxLen: cfg.Scanner.SymbolMaxLen},
		DryRun:          dryRun,
	})
}

func newPayments(cfg *config.Config, store *state.Store) *payments.Service {
	var source payments.Source
	if cfg.Billing.BSCWallet != "" {
		source = bscscan.NewClient(cfg.Billing.ExplorerBaseURL, cfg.Billing.ExplorerAPIKey)
	}
	return payments.NewService(source, store, payments.Options{
		Price:            decimal.NewFromFloat(cfg.Billing.PriceUSD),
		SubscriptionDays: cfg.Billing.SubscriptionDays,
		Wallet:           cfg.Billing.BSCWallet,
		Contract:         cfg.Billing.USDTContract,
	})
}
