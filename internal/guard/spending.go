package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sorare-trading-bot/internal/model"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// Decision is the outcome of a spending authorization.
type Decision int

const (
	Approved Decision = iota
	RejectedSingleLimit
	RejectedDailyLimit
	RejectedWeeklyLimit
	RejectedHighValueNotApproved
)

func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case RejectedSingleLimit:
		return "rejected_single_limit"
	case RejectedDailyLimit:
		return "rejected_daily_limit"
	case RejectedWeeklyLimit:
		return "rejected_weekly_limit"
	case RejectedHighValueNotApproved:
		return "rejected_high_value_not_approved"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Ledger stores executed spend entries.
type Ledger interface {
	AppendSpend(ctx context.Context, entry model.SpendEntry) error
	SpendSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
}

// ApprovalRequest is handed to the approval policy for high-value purchases.
type ApprovalRequest struct {
	ID              string
	Amount          decimal.Decimal
	Description     string
	RemainingDaily  decimal.Decimal
	RemainingWeekly decimal.Decimal
}

// ApprovalPolicy decides synchronously on high-value purchases.
type ApprovalPolicy interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// ApprovalFunc adapts a function to ApprovalPolicy.
type ApprovalFunc func(ctx context.Context, req ApprovalRequest) (bool, error)

// Approve implements ApprovalPolicy.
func (f ApprovalFunc) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	return f(ctx, req)
}

// DenyAll declines every request. It stands in until a real approval channel exists.
type DenyAll struct {
	Logger zerolog.Logger
}

// Approve logs the request and declines it.
func (d DenyAll) Approve(_ context.Context, req ApprovalRequest) (bool, error) {
	d.Logger.Warn().
		Str("id", req.ID).
		Str("amount", req.Amount.String()).
		Str("description", req.Description).
		Str("remaining_daily", req.RemainingDaily.String()).
		Str("remaining_weekly", req.RemainingWeekly.String()).
		Msg("high value purchase needs approval, no approval channel configured")
	return false, nil
}

// Limits are the spending ceilings in ETH.
type Limits struct {
	MaxSingle          decimal.Decimal
	MaxDaily           decimal.Decimal
	MaxWeekly          decimal.Decimal
	HighValueThreshold decimal.Decimal
}

// SpendingGuard enforces single, daily and weekly ceilings plus high-value approval.
type SpendingGuard struct {
	mu            sync.Mutex
	limits        Limits
	ledger        Ledger
	policy        ApprovalPolicy
	requirePolicy bool
	now           func() time.Time
	logger        zerolog.Logger
}

// SpendingOption customises a SpendingGuard.
type SpendingOption func(*SpendingGuard)

// WithApprovalPolicy installs the high-value approval policy.
func WithApprovalPolicy(p ApprovalPolicy) SpendingOption {
	return func(g *SpendingGuard) { g.policy = p }
}

// WithRequiredPolicy rejects high-value purchases when no policy is installed.
func WithRequiredPolicy(required bool) SpendingOption {
	return func(g *SpendingGuard) { g.requirePolicy = required }
}

// WithSpendingClock swaps the time source.
func WithSpendingClock(now func() time.Time) SpendingOption {
	return func(g *SpendingGuard) { g.now = now }
}

// NewSpendingGuard builds a guard over the given ledger.
func NewSpendingGuard(limits Limits, ledger Ledger, logger zerolog.Logger, opts ...SpendingOption) *SpendingGuard {
	g := &SpendingGuard{
		limits: limits,
		ledger: ledger,
		now:    time.Now,
		logger: logger.With().Str("component", "spending_guard").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize checks an intended purchase against every ceiling. Rejections are returned as
// decisions; errors are reserved for ledger and policy failures.
func (g *SpendingGuard) Authorize(ctx context.Context, id string, amount decimal.Decimal, description string) (Decision, error) {
	if amount.GreaterThan(g.limits.MaxSingle) {
		g.reject(id, amount, RejectedSingleLimit)
		return RejectedSingleLimit, nil
	}

	g.mu.Lock()
	daily, weekly, err := g.remaining(ctx)
	g.mu.Unlock()
	if err != nil {
		return RejectedDailyLimit, err
	}

	if amount.GreaterThan(daily) {
		g.reject(id, amount, RejectedDailyLimit)
		return RejectedDailyLimit, nil
	}
	if amount.GreaterThan(weekly) {
		g.reject(id, amount, RejectedWeeklyLimit)
		return RejectedWeeklyLimit, nil
	}

	if amount.GreaterThanOrEqual(g.limits.HighValueThreshold) {
		if g.policy == nil {
			if g.requirePolicy {
				g.reject(id, amount, RejectedHighValueNotApproved)
				return RejectedHighValueNotApproved, nil
			}
			g.logger.Warn().Str("id", id).Str("amount", amount.String()).Msg("high value purchase allowed without approval policy")
			return Approved, nil
		}

		ok, err := g.policy.Approve(ctx, ApprovalRequest{
			ID:              id,
			Amount:          amount,
			Description:     description,
			RemainingDaily:  daily,
			RemainingWeekly: weekly,
		})
		if err != nil {
			g.logger.Error().Err(err).Str("id", id).Msg("approval policy failed")
			return RejectedHighValueNotApproved, nil
		}
		if !ok {
			g.reject(id, amount, RejectedHighValueNotApproved)
			return RejectedHighValueNotApproved, nil
		}
	}

	return Approved, nil
}

// Record appends an executed purchase to the ledger. Call once per successful buy.
func (g *SpendingGuard) Record(ctx context.Context, id string, amount decimal.Decimal, description string) error {
	entry := model.SpendEntry{ID: id, Amount: amount, Description: description, CreatedAt: g.now().UTC()}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ledger.AppendSpend(ctx, entry); err != nil {
		return fmt.Errorf("record spend %s: %w", id, err)
	}
	g.logger.Info().Str("id", id).Str("amount", amount.String()).Msg("spend recorded")
	return nil
}

// Remaining returns what is left of the daily and weekly budget, floored at zero.
func (g *SpendingGuard) Remaining(ctx context.Context) (daily, weekly decimal.Decimal, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining(ctx)
}

func (g *SpendingGuard) remaining(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	now := g.now()
	spentDay, err := g.ledger.SpendSince(ctx, now.Add(-day))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("load daily spend: %w", err)
	}
	spentWeek, err := g.ledger.SpendSince(ctx, now.Add(-week))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("load weekly spend: %w", err)
	}
	daily := decimal.Max(g.limits.MaxDaily.Sub(spentDay), decimal.Zero)
	weekly := decimal.Max(g.limits.MaxWeekly.Sub(spentWeek), decimal.Zero)
	return daily, weekly, nil
}

func (g *SpendingGuard) reject(id string, amount decimal.Decimal, d Decision) {
	g.logger.Warn().Str("id", id).Str("amount", amount.String()).Str("decision", d.String()).Msg("purchase rejected")
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []model.SpendEntry
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// AppendSpend implements Ledger.
func (l *MemoryLedger) AppendSpend(_ context.Context, entry model.SpendEntry) error {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return nil
}

// SpendSince implements Ledger.
func (l *MemoryLedger) SpendSince(_ context.Context, since time.Time) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, e := range l.entries {
		if e.CreatedAt.After(since) {
			total = total.Add(e.Amount)
		}
	}
	return total, nil
}

var _ Ledger = (*MemoryLedger)(nil)
