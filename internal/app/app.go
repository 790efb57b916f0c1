package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"sorare-trading-bot/internal/alerting"
	"sorare-trading-bot/internal/chain"
	"sorare-trading-bot/internal/config"
	"sorare-trading-bot/internal/guard"
	"sorare-trading-bot/internal/market"
	"sorare-trading-bot/internal/priority"
	"sorare-trading-bot/internal/storage"
	"sorare-trading-bot/internal/storage/sqlite"
	"sorare-trading-bot/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// openRepository connects the configured persistence backend.
func (a *App) openRepository(ctx context.Context) (storage.Repository, error) {
	switch strings.ToLower(a.Config.Database.Driver) {
	case "postgres":
		store, err := storage.Open(ctx, a.Config.Database)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := sqlite.Open(a.Config.Database.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// withRepository opens the backend for the duration of fn.
func (a *App) withRepository(ctx context.Context, fn func(storage.Repository) error) error {
	repo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close repository")
		}
	}()
	return fn(repo)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return alerting.Nop{}
}

func (a *App) newMarket() *market.Client {
	cfg := a.Config.Marketplace
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	gql := market.NewGraphQLClient(market.Options{
		BaseURL:           cfg.BaseURL,
		APIToken:          cfg.APIToken,
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		UserAgent:         userAgent,
	}, a.Logger)
	return market.NewClient(gql)
}

func (a *App) newChainReader() *chain.Reader {
	cfg := a.Config.Ethereum
	return chain.NewReader(chain.Options{
		RPCURL:        cfg.RPCURL,
		WalletAddress: cfg.WalletAddress,
		CardsContract: cfg.CardsContract,
		Timeout:       cfg.RequestTimeout,
	}, a.Logger)
}

func (a *App) openPriority() (*priority.List, error) {
	return priority.Open(a.Config.Priority.File, a.Logger)
}

func (a *App) openEmergency(opts ...guard.EmergencyOption) (*guard.EmergencyStop, error) {
	stop, err := guard.NewEmergencyStop(a.Config.Emergency.Dir, a.Config.Emergency.PollInterval, a.Logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("emergency stop: %w", err)
	}
	return stop, nil
}

func (a *App) newSpendingGuard(ledger guard.Ledger) *guard.SpendingGuard {
	cfg := a.Config.Spending
	opts := []guard.SpendingOption{guard.WithRequiredPolicy(cfg.RequireApprovalPolicy)}
	if strings.EqualFold(cfg.ApprovalMode, "deny") {
		opts = append(opts, guard.WithApprovalPolicy(guard.DenyAll{Logger: a.Logger}))
	}
	return guard.NewSpendingGuard(guard.Limits{
		MaxSingle:          cfg.MaxSingle,
		MaxDaily:           cfg.MaxDaily,
		MaxWeekly:          cfg.MaxWeekly,
		HighValueThreshold: cfg.HighValueThreshold,
	}, ledger, a.Logger, opts...)
}

// ExportOptions hold parameters for exporting the transaction log.
type ExportOptions struct {
	PNGPath string
	CSVPath string
	MaxRows int
}

// TransactionsOptions configure the transactions command.
type TransactionsOptions struct {
	Limit int
}
