package quota

import (
	"context"
	"errors"

	"github.com/jobpsych/server/internal/shared/metrics"
	"go.uber.org/zap"
)

// AccountService is the engine's view of the remote account counter.
type AccountService interface {
	Check(ctx context.Context, accountID string) (*AccountSnapshot, error)
	Increment(ctx context.Context, accountID string, cost int) error
}

// EngineConfig configures the decision engine.
type EngineConfig struct {
	// AnonymousLimit is the IP-based daily limit for anonymous clients.
	AnonymousLimit int
	// FreeLimit is the free-tier limit used when the account service does not
	// report one, or cannot be reached.
	FreeLimit int
	// FailClosed denies anonymous requests when the local store is down.
	// Default is fail-open: a store outage admits the request so an
	// infrastructure failure never blocks traffic.
	FailClosed bool
}

// Engine decides admission for a request. It consults the local IP store for
// anonymous clients and the remote account counter for authenticated free
// accounts; premium accounts are always admitted.
type Engine struct {
	store   Store
	account AccountService
	cfg     EngineConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewEngine creates a quota decision engine. metrics may be nil.
func NewEngine(store Store, account AccountService, cfg EngineConfig, logger *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   store,
		account: account,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Decide evaluates admission for cost units of work and, when admitted,
// consumes them. For batch operations cost is the full batch size: the batch
// either fits entirely in the remaining quota or is denied as a whole, with
// both Remaining and Requested populated so the caller can report
// "you requested N, only M remain".
func (e *Engine) Decide(ctx context.Context, id Identity, cost int) Decision {
	d := e.decide(ctx, id, cost)
	e.record(id, d)
	return d
}

func (e *Engine) decide(ctx context.Context, id Identity, cost int) Decision {
	if id.IsAnonymous() {
		return e.decideAnonymous(ctx, id.IP, cost)
	}
	if id.Tier == TierPremium {
		return Decision{
			Admitted:  true,
			Unlimited: true,
			Requested: cost,
			LimitKind: LimitNone,
		}
	}
	return e.decideFreeAccount(ctx, id.AccountID, cost)
}

func (e *Engine) decideAnonymous(ctx context.Context, ip string, cost int) Decision {
	usage, err := e.store.Acquire(ctx, ip, e.cfg.AnonymousLimit, cost)
	if err != nil {
		e.logger.Error("quota store unavailable",
			zap.String("ip", ip),
			zap.Error(err),
		)
		if e.cfg.FailClosed {
			return Decision{
				Requested: cost,
				Limit:     e.cfg.AnonymousLimit,
				LimitKind: LimitIPBased,
				Reason:    ReasonRequiresAuth,
			}
		}
		// Fail-open: admit without a counter; remaining is unknown, report the
		// full limit the way the account path does on outage.
		return Decision{
			Admitted:   true,
			Remaining:  e.cfg.AnonymousLimit,
			Limit:      e.cfg.AnonymousLimit,
			Requested:  cost,
			LimitKind:  LimitIPBased,
			FailedOpen: true,
		}
	}

	d := Decision{
		Admitted:  usage.Admitted,
		Remaining: usage.Remaining,
		Limit:     e.cfg.AnonymousLimit,
		Used:      usage.Used,
		Requested: cost,
		LimitKind: LimitIPBased,
		ResetAt:   usage.ResetAt,
	}
	if !d.Admitted {
		d.Reason = ReasonRequiresAuth
	}
	return d
}

func (e *Engine) decideFreeAccount(ctx context.Context, accountID string, cost int) Decision {
	snap, err := e.account.Check(ctx, accountID)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		// Fresh account with zero uploads.
		snap = &AccountSnapshot{AccountID: accountID, Limit: e.cfg.FreeLimit, Tier: TierFree}
	case err != nil:
		// Fail-open: a third-party outage never blocks a paying tier.
		e.logger.Warn("account service unavailable, admitting",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return Decision{
			Admitted:   true,
			Remaining:  e.cfg.FreeLimit,
			Limit:      e.cfg.FreeLimit,
			Requested:  cost,
			LimitKind:  LimitUserBased,
			FailedOpen: true,
		}
	}

	// The account service owns tier state; it can know about an upgrade the
	// bearer token predates.
	if snap.Tier == TierPremium {
		return Decision{
			Admitted:  true,
			Unlimited: true,
			Used:      snap.Used,
			Requested: cost,
			LimitKind: LimitNone,
		}
	}

	rem := remaining(snap.Limit, snap.Used)
	if cost > rem {
		return Decision{
			Remaining: rem,
			Limit:     snap.Limit,
			Used:      snap.Used,
			Requested: cost,
			LimitKind: LimitUserBased,
			Reason:    ReasonRequiresPayment,
		}
	}

	// Admitted: advance the remote counter. Check and Increment are separate
	// round trips, so concurrent requests can race past the check; an
	// increment failure under-counts until the service recovers. Both are
	// accepted consistency gaps, logged rather than surfaced.
	if err := e.account.Increment(ctx, accountID, cost); err != nil {
		e.logger.Warn("account increment failed after admission",
			zap.String("account_id", accountID),
			zap.Int("cost", cost),
			zap.Error(err),
		)
	}

	return Decision{
		Admitted:  true,
		Remaining: rem - cost,
		Limit:     snap.Limit,
		Used:      snap.Used + cost,
		Requested: cost,
		LimitKind: LimitUserBased,
	}
}

// Status returns the current quota snapshot without consuming anything. It
// never increments a counter.
func (e *Engine) Status(ctx context.Context, id Identity) Decision {
	if id.IsAnonymous() {
		usage, err := e.store.Lookup(ctx, id.IP, e.cfg.AnonymousLimit)
		if err != nil {
			e.logger.Error("quota store unavailable", zap.String("ip", id.IP), zap.Error(err))
			return Decision{
				Admitted:  !e.cfg.FailClosed,
				Remaining: e.cfg.AnonymousLimit,
				Limit:     e.cfg.AnonymousLimit,
				LimitKind: LimitIPBased,
			}
		}
		return Decision{
			Admitted:  usage.Remaining > 0,
			Remaining: usage.Remaining,
			Limit:     e.cfg.AnonymousLimit,
			Used:      usage.Used,
			LimitKind: LimitIPBased,
			ResetAt:   usage.ResetAt,
		}
	}

	if id.Tier == TierPremium {
		return Decision{Admitted: true, Unlimited: true, LimitKind: LimitNone}
	}

	snap, err := e.account.Check(ctx, id.AccountID)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		snap = &AccountSnapshot{AccountID: id.AccountID, Limit: e.cfg.FreeLimit, Tier: TierFree}
	case err != nil:
		e.logger.Warn("account service unavailable for status",
			zap.String("account_id", id.AccountID),
			zap.Error(err),
		)
		return Decision{
			Admitted:  true,
			Remaining: e.cfg.FreeLimit,
			Limit:     e.cfg.FreeLimit,
			LimitKind: LimitUserBased,
		}
	}

	if snap.Tier == TierPremium {
		return Decision{Admitted: true, Unlimited: true, Used: snap.Used, LimitKind: LimitNone}
	}

	rem := remaining(snap.Limit, snap.Used)
	return Decision{
		Admitted:  rem > 0,
		Remaining: rem,
		Limit:     snap.Limit,
		Used:      snap.Used,
		LimitKind: LimitUserBased,
	}
}

func (e *Engine) record(id Identity, d Decision) {
	if e.metrics == nil {
		return
	}
	outcome := "denied"
	switch {
	case d.FailedOpen:
		outcome = "fail_open"
	case d.Admitted:
		outcome = "admitted"
	}
	e.metrics.RecordQuotaDecision(id.TierLabel(), outcome)
}
