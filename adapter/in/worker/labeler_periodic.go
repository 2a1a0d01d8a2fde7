package worker

import (
	"context"
	"sync"
	"time"

	"labeler_server/core/port/in"
	"labeler_server/core/port/out"

	"github.com/rs/zerolog"
)

// =============================================================================
// PeriodicLabeler - 연결된 모든 메일함을 주기적으로 라벨링
// =============================================================================

const (
	DefaultLabelingInterval = 15 * time.Minute
	DefaultLabelingQuery    = "in:inbox newer_than:2d"
	DefaultLabelingMax      = 50
	labelingRunTimeout      = 10 * time.Minute
)

// PeriodicConfig configures the periodic labeler.
type PeriodicConfig struct {
	Interval   time.Duration
	Query      string
	MaxResults int64
	// RunOnStart runs one pass immediately instead of waiting a full interval.
	RunOnStart bool
}

// PeriodicLabeler reconciles recent mail for every user with a stored token.
type PeriodicLabeler struct {
	svc    in.LabelingService
	tokens out.TokenStore
	config PeriodicConfig
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	// running guards against overlapping passes when one outlives the interval.
	running bool
}

// NewPeriodicLabeler creates a new periodic labeler.
func NewPeriodicLabeler(svc in.LabelingService, tokens out.TokenStore, config PeriodicConfig, log zerolog.Logger) *PeriodicLabeler {
	if config.Interval <= 0 {
		config.Interval = DefaultLabelingInterval
	}
	if config.Query == "" {
		config.Query = DefaultLabelingQuery
	}
	if config.MaxResults <= 0 {
		config.MaxResults = DefaultLabelingMax
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &PeriodicLabeler{
		svc:    svc,
		tokens: tokens,
		config: config,
		log:    log.With().Str("component", "periodic_labeler").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the labeling loop.
func (p *PeriodicLabeler) Start() {
	p.log.Info().Dur("interval", p.config.Interval).Str("query", p.config.Query).Msg("starting")
	p.wg.Add(1)
	go p.run()
}

// Stop stops the loop and waits for an in-flight pass to finish.
func (p *PeriodicLabeler) Stop() {
	p.log.Info().Msg("stopping")
	p.cancel()
	p.wg.Wait()
}

func (p *PeriodicLabeler) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	if p.config.RunOnStart {
		p.RunOnce(p.ctx)
	}

	for {
		select {
		case <-p.ctx.Done():
			p.log.Info().Msg("stopped")
			return
		case <-ticker.C:
			p.RunOnce(p.ctx)
		}
	}
}

// PassSummary aggregates one pass over all users.
type PassSummary struct {
	Users   int
	Failed  int
	Applied int
	Errors  int
}

// RunOnce reconciles every connected user once, one user at a time.
// A failing user is logged and skipped. Overlapping calls return immediately.
func (p *PeriodicLabeler) RunOnce(ctx context.Context) PassSummary {
	var summary PassSummary

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.log.Warn().Msg("previous pass still running, skipping")
		return summary
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	start := time.Now()
	users, err := p.tokens.ListUserIDs(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to list connected users")
		return summary
	}

	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		summary.Users++

		runCtx, cancel := context.WithTimeout(ctx, labelingRunTimeout)
		runCtx = in.WithRunOptions(runCtx, in.RunOptions{Trigger: "worker", Query: p.config.Query})

		sess := &out.Session{UserID: userID, Tokens: p.tokens}
		res, err := p.svc.ReconcileRecent(runCtx, sess, p.config.Query, p.config.MaxResults)
		cancel()
		if err != nil {
			summary.Errors++
			p.log.Error().Err(err).Str("user_id", userID).Msg("reconcile failed")
			continue
		}

		summary.Applied += res.AppliedCount
		summary.Failed += res.FailedCount
		p.log.Info().
			Str("user_id", userID).
			Int("candidates", len(res.Outcomes)).
			Int("applied", res.AppliedCount).
			Int("skipped", res.SkippedCount).
			Int("failed", res.FailedCount).
			Msg("reconciled")
	}

	p.log.Info().
		Int("users", summary.Users).
		Int("applied", summary.Applied).
		Int("errors", summary.Errors).
		Dur("duration", time.Since(start)).
		Msg("pass complete")
	return summary
}
