package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"sorare-trading-bot/internal/guard"
	"sorare-trading-bot/internal/history"
	"sorare-trading-bot/internal/metrics"
	"sorare-trading-bot/internal/model"
	"sorare-trading-bot/internal/priority"
	"sorare-trading-bot/internal/scheduler"
	"sorare-trading-bot/internal/status"
	"sorare-trading-bot/internal/storage"
	"sorare-trading-bot/internal/trading"
)

// Run executes the long-running trading daemon.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.ValidateTrading(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close repository")
		}
	}()

	unlock, err := a.acquireLock(ctx, repo)
	if err != nil {
		return err
	}
	if unlock != nil {
		defer unlock()
	}

	notifier := a.newNotifier()
	m := metrics.New()

	emergency, err := a.openEmergency(guard.WithActivationHook(a.notifyEmergency(notifier)))
	if err != nil {
		return err
	}
	if st := emergency.Status(); st.Active {
		a.Logger.Error().Str("reason", st.Reason).Time("triggered_at", st.TriggeredAt).
			Msg("emergency stop is active, cycles are skipped until it is cleared")
	}

	prio, err := a.openPriority()
	if err != nil {
		return err
	}

	limiter := guard.NewRateLimiter(a.Config.Trading.MaxTransactionsPerHour)
	if err := a.preloadRateWindow(ctx, repo, limiter); err != nil {
		return err
	}

	reader := a.newChainReader()
	defer reader.Close()
	if a.Config.Ethereum.RPCURL != "" && a.Config.Ethereum.WalletAddress != "" {
		reader.WarnIfLow(ctx, a.Config.Ethereum.LowBalanceWarning)
	}

	spending := a.newSpendingGuard(repo)
	exec, err := trading.New(trading.Deps{
		Market:       a.newMarket(),
		Transactions: repo,
		Watchlist:    repo,
		Preferences:  repo,
		Priority:     prio,
		History:      history.NewTracker(repo, a.Logger),
		Emergency:    emergency,
		RateLimiter:  limiter,
		Spending:     spending,
		Notifier:     notifier,
		Metrics:      m,
	}, trading.Options{
		Discount:          a.Config.Trading.DiscountFraction,
		Markup:            a.Config.Trading.Markup,
		CounterOfferFloor: a.Config.Trading.CounterOfferFloor,
		HistoryWindow:     a.Config.Trading.HistoryWindow,
	}, a.Logger)
	if err != nil {
		return err
	}

	sc := a.Config.Scheduler
	sched := scheduler.New(scheduler.Options{Workers: sc.Workers, CycleTimeout: sc.CycleTimeout}, a.Logger,
		scheduler.Job{Name: trading.CycleStandard, Interval: sc.StandardInterval, StartupDelay: sc.StandardDelay, Run: exec.StandardScan},
		scheduler.Job{Name: trading.CycleHighPriority, Interval: sc.HighPriorityInterval, StartupDelay: sc.HighPriorityDelay, Run: exec.HighPriorityScan},
		scheduler.Job{Name: trading.CycleOffers, Interval: sc.OffersInterval, StartupDelay: sc.OffersDelay, Run: exec.ReconcileOffers},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		emergency.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.reloadOnHangup(gctx, emergency, prio)
		return nil
	})
	if a.Config.Status.Enabled {
		srv := status.NewServer(a.Config.Status.ListenAddr, status.Sources{
			Emergency:   emergency,
			RateLimiter: limiter,
			Spending:    spending,
			Metrics:     m,
		}, a.Logger)
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return sched.Run(gctx)
	})

	a.Logger.Info().
		Int("high_priority_players", len(prio.Assets())).
		Int("reservations_last_hour", limiter.Count()).
		Msg("starting trading daemon")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("trading daemon terminated with error")
		return err
	}

	a.Logger.Info().Msg("trading daemon stopped")
	return nil
}

func (a *App) acquireLock(ctx context.Context, repo storage.Repository) (func(), error) {
	locker, ok := repo.(storage.AdvisoryLocker)
	if !ok || a.Config.Database.AdvisoryLockKey == 0 {
		return nil, nil
	}
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, a.Config.Database.AdvisoryLockKey)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, errors.New("another trading daemon holds the database lock")
	}
	return unlock, nil
}

// preloadRateWindow seeds the limiter with last hour's purchases and sales.
func (a *App) preloadRateWindow(ctx context.Context, repo storage.TransactionStore, limiter *guard.RateLimiter) error {
	recs, err := repo.TransactionsSince(ctx, time.Now().Add(-guard.RateWindow))
	if err != nil {
		return fmt.Errorf("load recent transactions: %w", err)
	}
	times := make([]time.Time, 0, len(recs))
	for _, rec := range recs {
		if rec.Kind == model.KindPurchase || rec.Kind == model.KindSale {
			times = append(times, rec.CreatedAt)
		}
	}
	limiter.Preload(times)
	return nil
}

// reloadOnHangup rereads the high-priority file and clears the emergency stop on SIGHUP.
// Clearing needs the marker file to be gone already.
func (a *App) reloadOnHangup(ctx context.Context, stop *guard.EmergencyStop, prio *priority.List) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if err := prio.Reload(); err != nil {
				a.Logger.Warn().Err(err).Msg("high-priority players not reloaded on SIGHUP")
			}
			if err := stop.Clear(false); err != nil {
				a.Logger.Warn().Err(err).Msg("emergency stop not cleared on SIGHUP")
				continue
			}
			a.Logger.Info().Msg("emergency stop state reloaded on SIGHUP")
		}
	}
}
