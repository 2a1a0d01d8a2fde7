package labeling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"labeler_server/core/domain"
	"labeler_server/core/port/in"
	"labeler_server/core/port/out"
	"labeler_server/pkg/resilience"
)

var errNoLedgerStore = errors.New("no ledger store configured")

const (
	defaultConcurrency     = 4
	defaultClassifyTimeout = 60 * time.Second
	defaultRetryBackoff    = 500 * time.Millisecond
)

// Config tunes the pipeline.
type Config struct {
	Concurrency     int
	ClassifyTimeout time.Duration
	GatewayTimeout  time.Duration
	LedgerTimeout   time.Duration
	RetryBackoff    time.Duration
	DraftReplies    bool
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = defaultClassifyTimeout
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = defaultGatewayTimeout
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = defaultLedgerTimeout
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	} else if c.RetryBackoff == 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
}

// Deps are the collaborators of the pipeline. Runs, Lock and Drafter are optional.
type Deps struct {
	Gateway    out.MailGateway
	Classifier out.Classifier
	Ledger     out.LedgerStore
	Lock       out.CreationLock
	Runs       out.RunStore
	// Drafter writes the reply when the classifier flags needsReply
	// without suggesting text.
	Drafter out.ReplyDrafter
}

// Pipeline drives candidate messages through
// ledger check -> classify -> resolve -> apply -> ledger write.
type Pipeline struct {
	gateway    out.MailGateway
	classifier out.Classifier
	ledger     *Ledger
	resolver   *Resolver
	runs       out.RunStore
	drafter    out.ReplyDrafter
	cfg        Config
	log        zerolog.Logger
}

var _ in.LabelingService = (*Pipeline)(nil)

// NewPipeline returns a ConfigurationError when a required collaborator is missing.
func NewPipeline(deps Deps, cfg Config, log zerolog.Logger) (*Pipeline, error) {
	switch {
	case deps.Gateway == nil:
		return nil, &domain.ConfigurationError{Field: "gateway", Reason: "missing"}
	case deps.Classifier == nil:
		return nil, &domain.ConfigurationError{Field: "classifier", Reason: "missing"}
	case deps.Ledger == nil:
		return nil, &domain.ConfigurationError{Field: "ledger", Reason: "missing"}
	}
	cfg.applyDefaults()

	return &Pipeline{
		gateway:    deps.Gateway,
		classifier: deps.Classifier,
		ledger:     NewLedger(deps.Ledger, cfg.LedgerTimeout, log),
		resolver:   NewResolver(deps.Gateway, deps.Lock, cfg.GatewayTimeout, log),
		runs:       deps.Runs,
		drafter:    deps.Drafter,
		cfg:        cfg,
		log:        log.With().Str("component", "labeling_pipeline").Logger(),
	}, nil
}

// job is one candidate. msg is nil when only the ID is known; the worker
// then fetches the message itself.
type job struct {
	id  string
	msg *domain.Message
}

// Reconcile labels a batch of already fetched messages.
func (p *Pipeline) Reconcile(ctx context.Context, sess *out.Session, candidates []*domain.Message) (*domain.BatchResult, error) {
	jobs := make([]*job, 0, len(candidates))
	for _, m := range candidates {
		if m == nil || m.ID == "" {
			continue
		}
		jobs = append(jobs, &job{id: m.ID, msg: m})
	}
	return p.run(ctx, sess, jobs)
}

// ReconcileIDs labels messages known only by ID. Already labeled messages
// are never fetched.
func (p *Pipeline) ReconcileIDs(ctx context.Context, sess *out.Session, messageIDs []string) (*domain.BatchResult, error) {
	jobs := make([]*job, 0, len(messageIDs))
	for _, id := range messageIDs {
		jobs = append(jobs, &job{id: id})
	}
	return p.run(ctx, sess, jobs)
}

// ReconcileRecent lists messages matching query and reconciles them.
func (p *Pipeline) ReconcileRecent(ctx context.Context, sess *out.Session, query string, maxResults int64) (*domain.BatchResult, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}

	ids, err := p.listMessages(ctx, sess, query, maxResults)
	if err != nil {
		return nil, err
	}
	return p.ReconcileIDs(ctx, sess, ids)
}

func (p *Pipeline) listMessages(ctx context.Context, sess *out.Session, query string, maxResults int64) ([]string, error) {
	var ids []string
	err := resilience.Retry(ctx, p.retryOnce(), func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
		defer cancel()
		var err error
		ids, err = p.gateway.ListMessages(cctx, sess, query, maxResults)
		return err
	})
	return ids, err
}

func (p *Pipeline) run(ctx context.Context, sess *out.Session, jobs []*job) (*domain.BatchResult, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}

	started := time.Now()
	jobs = uniqueJobs(jobs)
	result := domain.NewBatchResult(len(jobs))
	log := p.log.With().Str("user_id", sess.UserID).Int("candidates", len(jobs)).Logger()

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.id
	}
	check := p.ledger.CheckLabeled(ctx, sess.UserID, ids)

	pending := make([]*job, 0, len(check.NeedsLabeling))
	for _, j := range jobs {
		if check.IsLabeled(j.id) {
			result.Add(&domain.Outcome{
				MessageID: j.id,
				State:     domain.OutcomeAlreadyLabeled,
				Labels:    check.Details[j.id].Labels,
			})
			continue
		}
		pending = append(pending, j)
	}

	if len(pending) > 0 {
		p.process(ctx, sess, pending, result, log)
	}

	log.Info().
		Int("applied", result.AppliedCount).
		Int("failed", result.FailedCount).
		Int("skipped", result.SkippedCount).
		Int("no_labels", result.NoLabelCount).
		Bool("ledger_degraded", check.Degraded).
		Dur("duration", time.Since(started)).
		Msg("labeling batch finished")

	p.saveRun(ctx, sess.UserID, started, result)
	return result, nil
}

// process fans pending jobs out over a bounded pool. The pool runs detached
// from ctx so in-flight messages finish cleanly; jobs picked up after ctx is
// done are recorded as cancelled without any external call.
func (p *Pipeline) process(ctx context.Context, sess *out.Session, pending []*job, result *domain.BatchResult, log zerolog.Logger) {
	if ctx.Err() != nil {
		for _, j := range pending {
			result.Add(domain.Failed(j.id, domain.StageCancelled, nil))
		}
		return
	}

	snap, err := p.snapshot(ctx, sess)
	if err != nil {
		log.Error().Err(err).Msg("failed to list labels, failing batch messages")
		for _, j := range pending {
			result.Add(domain.Failed(j.id, domain.StageResolve, err))
		}
		return
	}

	w := &batchWorker{p: p, sess: sess, snap: snap, batchCtx: ctx, result: result}
	detached := context.WithoutCancel(ctx)

	size := p.cfg.Concurrency
	if size > len(pending) {
		size = len(pending)
	}
	wg := pool.New[*job](size, w).WithBatchSize(1).WithContinueOnError()
	if err := wg.Go(detached); err != nil {
		log.Error().Err(err).Msg("failed to start labeling pool")
		for _, j := range pending {
			result.Add(domain.Failed(j.id, domain.StageClassify, err))
		}
		return
	}
	for _, j := range pending {
		wg.Submit(j)
	}
	if err := wg.Close(detached); err != nil {
		log.Warn().Err(err).Msg("labeling pool finished with errors")
	}

	// Every pending job reaches Do, but guard the one-outcome-per-candidate
	// contract anyway.
	for _, j := range pending {
		if _, ok := result.Outcomes[j.id]; !ok {
			result.Add(domain.Failed(j.id, domain.StageCancelled, nil))
		}
	}
}

func (p *Pipeline) snapshot(ctx context.Context, sess *out.Session) (*Snapshot, error) {
	var snap *Snapshot
	err := resilience.Retry(ctx, p.retryOnce(), func(ctx context.Context) error {
		var err error
		snap, err = p.resolver.Snapshot(ctx, sess)
		return err
	})
	return snap, err
}

type batchWorker struct {
	p        *Pipeline
	sess     *out.Session
	snap     *Snapshot
	batchCtx context.Context

	mu     sync.Mutex
	result *domain.BatchResult
}

// Do implements pool.Worker. It always returns nil; failures are outcomes.
func (w *batchWorker) Do(ctx context.Context, j *job) error {
	var o *domain.Outcome
	if w.batchCtx.Err() != nil {
		o = domain.Failed(j.id, domain.StageCancelled, nil)
	} else {
		o = w.p.label(ctx, w.sess, w.snap, j)
	}

	w.mu.Lock()
	w.result.Add(o)
	w.mu.Unlock()
	return nil
}

// label runs one message through classify, resolve, apply and record.
func (p *Pipeline) label(ctx context.Context, sess *out.Session, snap *Snapshot, j *job) *domain.Outcome {
	log := p.log.With().Str("user_id", sess.UserID).Str("message_id", j.id).Logger()

	msg := j.msg
	if msg == nil {
		var err error
		if msg, err = p.fetch(ctx, sess, j.id); err != nil {
			log.Warn().Err(err).Msg("fetch failed")
			return domain.Failed(j.id, domain.StageFetch, err)
		}
	}

	res, attempts, err := p.classify(ctx, msg, snap.UserLabelNames())
	if err != nil {
		log.Warn().Err(err).Int("attempts", attempts).Msg("classification failed")
		o := domain.Failed(j.id, domain.StageClassify, err)
		o.Attempts = attempts
		return o
	}
	confidence := res.Confidence

	if !res.HasLabels() {
		log.Debug().Float64("confidence", confidence).Msg("no labels suggested")
		return &domain.Outcome{MessageID: j.id, State: domain.OutcomeNoLabels, Confidence: &confidence}
	}

	resolution := p.resolver.Resolve(ctx, sess, snap, res.SuggestedLabels)
	if err := resolution.Err(); err != nil {
		o := domain.Failed(j.id, domain.StageResolve, err)
		o.SkippedNames = resolution.FailedNames()
		o.Confidence = &confidence
		return o
	}

	if err := p.apply(ctx, sess, j.id, resolution.IDs); err != nil {
		log.Warn().Err(err).Strs("labels", resolution.Names).Msg("apply failed")
		o := domain.Failed(j.id, domain.StageApply, err)
		o.Confidence = &confidence
		return o
	}

	o := &domain.Outcome{
		MessageID:    j.id,
		State:        domain.OutcomeApplied,
		Labels:       resolution.Names,
		LabelIDs:     resolution.IDs,
		SkippedNames: resolution.FailedNames(),
		Confidence:   &confidence,
		Attempts:     attempts,
	}

	action, err := p.ledger.Store(ctx, sess.UserID, j.id, resolution.Names, &confidence, res.Reasoning)
	if err != nil {
		// The labels are on the message; only the idempotence record is missing.
		log.Error().Err(err).Msg("ledger write failed after apply")
		o.LedgerError = err.Error()
	} else {
		o.LedgerAction = action
	}

	if p.cfg.DraftReplies && (res.WantsDraft() || (res.NeedsReply && p.drafter != nil)) {
		draftID, err := p.draft(ctx, sess, msg, res.SuggestedReply)
		if err != nil {
			log.Warn().Err(err).Msg("draft reply failed")
			o.DraftError = err.Error()
		} else {
			o.DraftID = draftID
		}
	}

	log.Info().Strs("labels", o.Labels).Float64("confidence", confidence).Msg("labels applied")
	return o
}

func (p *Pipeline) fetch(ctx context.Context, sess *out.Session, id string) (*domain.Message, error) {
	var msg *domain.Message
	err := resilience.Retry(ctx, p.retryOnce(), func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
		defer cancel()
		var err error
		msg, err = p.gateway.GetMessage(cctx, sess, id)
		return asTransport(cctx, "get_message", err)
	})
	return msg, err
}

func (p *Pipeline) classify(ctx context.Context, msg *domain.Message, existing []string) (*domain.ClassificationResult, int, error) {
	var res *domain.ClassificationResult
	attempts := 0
	err := resilience.Retry(ctx, p.retryOnce(), func(ctx context.Context) error {
		attempts++
		cctx, cancel := context.WithTimeout(ctx, p.cfg.ClassifyTimeout)
		defer cancel()
		var err error
		res, err = p.classifier.Classify(cctx, domain.EmailInputFromMessage(msg), existing)
		if err != nil && cctx.Err() == context.DeadlineExceeded && !isTyped(err) {
			return &domain.ClassificationTransportError{Transient: true, Err: err}
		}
		return err
	})
	if err == nil && res == nil {
		err = &domain.ClassificationFormatError{Reason: "empty result"}
	}
	return res, attempts, err
}

func (p *Pipeline) apply(ctx context.Context, sess *out.Session, messageID string, labelIDs []string) error {
	return resilience.Retry(ctx, p.retryOnce(), func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
		defer cancel()
		return asTransport(cctx, "modify", p.gateway.ModifyMessageLabels(cctx, sess, messageID, labelIDs))
	})
}

func (p *Pipeline) draft(ctx context.Context, sess *out.Session, msg *domain.Message, body string) (string, error) {
	if body == "" {
		wctx, cancel := context.WithTimeout(ctx, p.cfg.ClassifyTimeout)
		text, err := p.drafter.DraftReply(wctx, domain.EmailInputFromMessage(msg), "")
		cancel()
		if err != nil {
			return "", err
		}
		body = text
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
	defer cancel()

	subject := msg.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	return p.gateway.CreateDraft(ctx, sess, &out.DraftRequest{
		ThreadID:  msg.ThreadID,
		InReplyTo: msg.MessageIDHeader,
		To:        msg.From,
		Subject:   subject,
		Body:      body,
	})
}

func (p *Pipeline) retryOnce() resilience.RetryPolicy {
	policy := resilience.Once(domain.IsTransient)
	policy.Backoff = p.cfg.RetryBackoff
	return policy
}

func (p *Pipeline) saveRun(ctx context.Context, userID string, started time.Time, result *domain.BatchResult) {
	if p.runs == nil || len(result.Outcomes) == 0 {
		return
	}
	opts := in.RunOptionsFrom(ctx)
	report := domain.NewRunReport(userID, opts.Trigger, opts.Query, started, result)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.LedgerTimeout)
	defer cancel()
	if err := p.runs.Save(sctx, report); err != nil {
		p.log.Warn().Err(err).Str("run_id", report.ID.String()).Msg("failed to save run report")
	}
}

// asTransport turns an untyped error caused by the per-call deadline into a
// transient gateway error so the retry policy treats it as a timeout.
func asTransport(ctx context.Context, op string, err error) error {
	if err == nil || isTyped(err) {
		return err
	}
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return &domain.GatewayTransportError{Op: op, Transient: true, Err: err}
	}
	return err
}

func isTyped(err error) bool {
	var (
		ct *domain.ClassificationTransportError
		cf *domain.ClassificationFormatError
		gt *domain.GatewayTransportError
		ga *domain.GatewayAuthError
	)
	return errors.As(err, &ct) || errors.As(err, &cf) || errors.As(err, &gt) || errors.As(err, &ga)
}

func uniqueJobs(jobs []*job) []*job {
	seen := make(map[string]struct{}, len(jobs))
	result := make([]*job, 0, len(jobs))
	for _, j := range jobs {
		j.id = strings.TrimSpace(j.id)
		if j.id == "" {
			continue
		}
		if _, ok := seen[j.id]; ok {
			continue
		}
		seen[j.id] = struct{}{}
		result = append(result, j)
	}
	return result
}
