package labeling

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"labeler_server/core/domain"
	"labeler_server/core/port/in"
	"labeler_server/core/port/out"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	workLabel     = domain.GmailLabel{ID: "Label_1", Name: "Work", Type: domain.LabelTypeUser}
	personalLabel = domain.GmailLabel{ID: "Label_2", Name: "Personal", Type: domain.LabelTypeUser}
	inboxLabel    = domain.GmailLabel{ID: "INBOX", Name: "INBOX", Type: domain.LabelTypeSystem}
)

type harness struct {
	gw     *fakeGateway
	cls    *fakeClassifier
	ledger *fakeLedgerStore
	runs   *fakeRunStore
	p      *Pipeline
}

func newHarness(t *testing.T, cfg Config, labels ...domain.GmailLabel) *harness {
	t.Helper()
	h := &harness{
		gw:     newFakeGateway(labels...),
		cls:    newFakeClassifier(),
		ledger: newFakeLedgerStore(),
		runs:   &fakeRunStore{},
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = -1
	}
	p, err := NewPipeline(Deps{
		Gateway:    h.gw,
		Classifier: h.cls,
		Ledger:     h.ledger,
		Runs:       h.runs,
	}, cfg, zerolog.Nop())
	require.NoError(t, err)
	h.p = p
	return h
}

func TestReconcile_RoundTrip(t *testing.T) {
	h := newHarness(t, Config{}, inboxLabel, workLabel, personalLabel)
	h.cls.answer("Team sync notes", "Work")

	res, err := h.p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "Team sync notes")})

	require.NoError(t, err)
	assert.Equal(t, 1, res.AppliedCount)
	assert.Equal(t, 0, res.FailedCount)

	o := res.Outcomes["m1"]
	require.NotNil(t, o)
	assert.Equal(t, domain.OutcomeApplied, o.State)
	assert.Equal(t, []string{"Label_1"}, o.LabelIDs)
	assert.Equal(t, domain.LedgerCreated, o.LedgerAction)

	assert.Equal(t, [][]string{{"Label_1"}}, h.gw.modifyCalls["m1"])
	assert.Equal(t, 0, h.gw.totalCreateCalls())

	entry := h.ledger.get("user-1", "m1")
	require.NotNil(t, entry)
	assert.Equal(t, []string{"Work"}, entry.Labels)
	require.NotNil(t, entry.Confidence)
	assert.Equal(t, "0.9", *entry.Confidence)

	// system labels are not offered to the classifier
	require.Len(t, h.cls.seen, 1)
	assert.Equal(t, []string{"Work", "Personal"}, h.cls.seen[0])

	require.Len(t, h.runs.reports, 1)
	assert.Equal(t, 1, h.runs.reports[0].AppliedCount)
}

func TestReconcile_Idempotent(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)
	h.cls.answer("a", "Work")
	h.cls.answer("b", "Travel")
	batch := []*domain.Message{msg("m1", "a"), msg("m2", "b")}

	first, err := h.p.Reconcile(context.Background(), testSession(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, first.AppliedCount)
	modifies := h.gw.totalModifyCalls()
	classifies := h.cls.totalCalls()

	second, err := h.p.Reconcile(context.Background(), testSession(), batch)
	require.NoError(t, err)

	assert.Equal(t, 2, second.SkippedCount)
	assert.Equal(t, 0, second.AppliedCount)
	assert.Equal(t, modifies, h.gw.totalModifyCalls())
	assert.Equal(t, classifies, h.cls.totalCalls())
	for _, o := range second.Outcomes {
		assert.Equal(t, domain.OutcomeAlreadyLabeled, o.State)
	}
}

func TestReconcile_PartialFailureIsolation(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 3}, workLabel)
	h.cls.answer("one", "Work")
	h.cls.answers["two"] = func(int) (*domain.ClassificationResult, error) {
		return nil, &domain.ClassificationFormatError{Reason: "invalid JSON"}
	}
	h.cls.answer("three", "Work")

	res, err := h.p.Reconcile(context.Background(), testSession(), []*domain.Message{
		msg("m1", "one"), msg("m2", "two"), msg("m3", "three"),
	})

	require.NoError(t, err)
	assert.Equal(t, 2, res.AppliedCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, domain.OutcomeApplied, res.Outcomes["m1"].State)
	assert.Equal(t, domain.OutcomeApplied, res.Outcomes["m3"].State)

	failed := res.Outcomes["m2"]
	assert.Equal(t, domain.OutcomeFailed, failed.State)
	assert.Equal(t, domain.StageClassify, failed.FailedStage)
	assert.NotEmpty(t, failed.Reason)

	// format errors are not retried and nothing is applied or recorded
	assert.Equal(t, 1, h.cls.calls["two"])
	assert.Empty(t, h.gw.modifyCalls["m2"])
	assert.Nil(t, h.ledger.get("user-1", "m2"))
}

func TestReconcile_NoSuggestion(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)
	h.cls.answers["quiet"] = func(int) (*domain.ClassificationResult, error) {
		return &domain.ClassificationResult{SuggestedLabels: []string{}, Confidence: 0.4}, nil
	}

	res, err := h.p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "quiet")})

	require.NoError(t, err)
	o := res.Outcomes["m1"]
	assert.Equal(t, domain.OutcomeNoLabels, o.State)
	assert.Empty(t, o.LabelIDs)
	require.NotNil(t, o.Confidence)
	assert.Equal(t, 0.4, *o.Confidence)
	assert.Equal(t, 1, res.NoLabelCount)
	assert.Equal(t, 0, h.gw.totalModifyCalls())
	assert.Equal(t, 0, h.ledger.upserts)
}

func TestReconcile_LedgerFailOpen(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)
	h.ledger.entries[ledgerKey("user-1", "m1")] = &domain.LedgerEntry{UserID: "user-1", MessageID: "m1", Labels: []string{"Work"}}
	h.ledger.findErr = errors.New("connection refused")
	h.cls.answer("a", "Work")
	h.cls.answer("b", "Work")

	res, err := h.p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "a"), msg("m2", "b")})

	require.NoError(t, err)
	assert.Equal(t, 0, res.SkippedCount)
	assert.Equal(t, 2, res.AppliedCount)
	assert.Equal(t, 2, h.cls.totalCalls())
}

func TestLedger_CheckLabeledTimesOut(t *testing.T) {
	store := newFakeLedgerStore()
	store.block = true
	l := NewLedger(store, 20*time.Millisecond, zerolog.Nop())

	start := time.Now()
	check := l.CheckLabeled(context.Background(), "user-1", []string{"a", "b", "a", " "})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, check.Degraded)
	assert.Equal(t, []string{"a", "b"}, check.NeedsLabeling)
	assert.Empty(t, check.AlreadyLabeled)
}

func TestLedger_StoreUpserts(t *testing.T) {
	store := newFakeLedgerStore()
	l := NewLedger(store, time.Second, zerolog.Nop())
	conf := 0.75

	action, err := l.Store(context.Background(), "u", "m", []string{"Work"}, &conf, "notes")
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerCreated, action)

	action, err = l.Store(context.Background(), "u", "m", []string{"Work"}, &conf, "notes")
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerUpdated, action)

	entry := store.get("u", "m")
	assert.Equal(t, "0.75", *entry.Confidence)
	assert.Equal(t, "notes", *entry.Reasoning)

	check := l.CheckLabeled(context.Background(), "u", []string{"m", "other"})
	assert.Equal(t, []string{"m"}, check.AlreadyLabeled)
	assert.Equal(t, []string{"other"}, check.NeedsLabeling)
	assert.False(t, check.Degraded)
}

func TestReconcile_CaseInsensitiveCreateOnce(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 4})
	subjects := []string{"a", "b", "c", "d", "e", "f"}
	var batch []*domain.Message
	for i, s := range subjects {
		h.cls.answer(s, []string{"Travel", "travel", "TRAVEL"}[i%3])
		batch = append(batch, msg("m-"+s, s))
	}

	res, err := h.p.Reconcile(context.Background(), testSession(), batch)

	require.NoError(t, err)
	assert.Equal(t, len(subjects), res.AppliedCount)
	assert.Equal(t, 1, h.gw.totalCreateCalls())

	var ids []string
	for _, o := range res.Outcomes {
		require.Len(t, o.LabelIDs, 1)
		ids = append(ids, o.LabelIDs[0])
	}
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestReconcile_RetriesTransientOnce(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)
	h.cls.answers["flaky"] = func(call int) (*domain.ClassificationResult, error) {
		if call == 1 {
			return nil, &domain.ClassificationTransportError{StatusCode: 503, Transient: true, Err: errors.New("unavailable")}
		}
		return &domain.ClassificationResult{SuggestedLabels: []string{"Work"}, Confidence: 0.8}, nil
	}
	h.gw.modifyErr = func(id string, call int) error {
		if call == 1 {
			return &domain.GatewayTransportError{Op: "modify", StatusCode: 502, Transient: true, Err: errors.New("bad gateway")}
		}
		return nil
	}

	res, err := h.p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "flaky")})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcomes["m1"].State)
	assert.Equal(t, 2, res.Outcomes["m1"].Attempts)
	assert.Equal(t, 2, h.cls.calls["flaky"])
	assert.Len(t, h.gw.modifyCalls["m1"], 2)
}

func TestReconcile_GivesUpAfterOneRetry(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)
	h.cls.answers["down"] = func(int) (*domain.ClassificationResult, error) {
		return nil, &domain.ClassificationTransportError{StatusCode: 500, Transient: true, Err: errors.New("boom")}
	}

	res, err := h.p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "down")})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, res.Outcomes["m1"].State)
	assert.Equal(t, 2, h.cls.calls["down"])
}

func TestReconcile_NoRetryOn4xx(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)
	h.cls.answer("a", "Work")
	h.gw.modifyErr = func(string, int) error {
		return &domain.GatewayTransportError{Op: "modify", StatusCode: http.StatusBadRequest, Err: errors.New("invalid label")}
	}

	res, err := h.p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "a")})

	require.NoError(t, err)
	o := res.Outcomes["m1"]
	assert.Equal(t, domain.OutcomeFailed, o.State)
	assert.Equal(t, domain.StageApply, o.FailedStage)
	assert.Len(t, h.gw.modifyCalls["m1"], 1)
	assert.Nil(t, h.ledger.get("user-1", "m1"))
}

func TestReconcile_SkipsInvalidLabelNames(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)
	h.cls.answer("a", "Work", "Bad/", "Rejected")
	h.gw.createErr = func(name string) error {
		if name == "Rejected" {
			return &domain.GatewayTransportError{Op: "create_label", StatusCode: http.StatusBadRequest, Err: errors.New("Invalid label name")}
		}
		return nil
	}

	res, err := h.p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "a")})

	require.NoError(t, err)
	o := res.Outcomes["m1"]
	assert.Equal(t, domain.OutcomeApplied, o.State)
	assert.Equal(t, []string{"Label_1"}, o.LabelIDs)
	assert.ElementsMatch(t, []string{"Bad/", "Rejected"}, o.SkippedNames)
	assert.Equal(t, 0, h.gw.createCalls["Bad/"])
	assert.Equal(t, 1, h.gw.createCalls["Rejected"])
}

func TestReconcile_NeverAppliesSystemLabels(t *testing.T) {
	spam := domain.GmailLabel{ID: "SPAM", Name: "SPAM", Type: domain.LabelTypeSystem}
	trash := domain.GmailLabel{ID: "TRASH", Name: "TRASH", Type: domain.LabelTypeSystem}
	h := newHarness(t, Config{}, inboxLabel, spam, trash, workLabel)
	h.cls.answer("a", "Spam", "Trash", "Work")
	h.cls.answer("b", "Spam", "inbox")

	res, err := h.p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "a"), msg("m2", "b")})

	require.NoError(t, err)
	o := res.Outcomes["m1"]
	assert.Equal(t, domain.OutcomeApplied, o.State)
	assert.Equal(t, []string{"Label_1"}, o.LabelIDs)
	assert.ElementsMatch(t, []string{"Spam", "Trash"}, o.SkippedNames)
	assert.Equal(t, [][]string{{"Label_1"}}, h.gw.modifyCalls["m1"])

	o = res.Outcomes["m2"]
	assert.Equal(t, domain.OutcomeFailed, o.State)
	assert.Equal(t, domain.StageResolve, o.FailedStage)
	assert.Contains(t, o.Reason, "reserved name")
	assert.ElementsMatch(t, []string{"Spam", "inbox"}, o.SkippedNames)
	assert.Empty(t, h.gw.modifyCalls["m2"])
	assert.Equal(t, 0, h.gw.totalCreateCalls())
}

func TestReconcile_ResolveFailedWhenNothingResolves(t *testing.T) {
	h := newHarness(t, Config{})
	h.cls.answer("a", "Bad/")

	res, err := h.p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "a")})

	require.NoError(t, err)
	o := res.Outcomes["m1"]
	assert.Equal(t, domain.OutcomeFailed, o.State)
	assert.Equal(t, domain.StageResolve, o.FailedStage)
	assert.Equal(t, 0, h.gw.totalModifyCalls())
}

func TestReconcile_LedgerWriteFailureKeepsApplied(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)
	h.cls.answer("a", "Work")
	h.ledger.upsertErr = errors.New("disk full")

	res, err := h.p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "a")})

	require.NoError(t, err)
	o := res.Outcomes["m1"]
	assert.Equal(t, domain.OutcomeApplied, o.State)
	assert.Contains(t, o.LedgerError, "disk full")
	assert.Equal(t, 1, res.AppliedCount)
}

func TestReconcile_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)
	h.cls.answer("a", "Work")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.p.Reconcile(ctx, testSession(), []*domain.Message{msg("m1", "a"), msg("m2", "a")})

	require.NoError(t, err)
	assert.Equal(t, 2, res.FailedCount)
	for _, o := range res.Outcomes {
		assert.Equal(t, domain.StageCancelled, o.FailedStage)
	}
	assert.Equal(t, 0, h.cls.totalCalls())
	assert.Equal(t, 0, h.gw.totalModifyCalls())
}

func TestReconcile_CancelledMidBatchFinishesInFlight(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 1}, workLabel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, s := range []string{"first", "second", "third"} {
		h.cls.answer(s, "Work")
	}
	h.cls.onCall = func(subject string) {
		if subject == "first" {
			cancel()
		}
	}

	res, err := h.p.Reconcile(ctx, testSession(), []*domain.Message{
		msg("m1", "first"), msg("m2", "second"), msg("m3", "third"),
	})

	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, domain.OutcomeApplied, res.Outcomes["m1"].State)
	assert.NotNil(t, h.ledger.get("user-1", "m1"))
	assert.Equal(t, domain.StageCancelled, res.Outcomes["m2"].FailedStage)
	assert.Equal(t, domain.StageCancelled, res.Outcomes["m3"].FailedStage)
	assert.Equal(t, 1, res.AppliedCount)
	assert.Equal(t, 2, res.FailedCount)
}

func TestReconcile_InvalidSessionAborts(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)

	_, err := h.p.Reconcile(context.Background(), &out.Session{UserID: "u"}, []*domain.Message{msg("m1", "a")})

	var ce *domain.ConfigurationError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, h.cls.totalCalls())
}

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	_, err := NewPipeline(Deps{Gateway: newFakeGateway(), Ledger: newFakeLedgerStore()}, Config{}, zerolog.Nop())

	var ce *domain.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "classifier", ce.Field)
}

func TestReconcile_LabelListFailureFailsPending(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)
	h.gw.listErr = &domain.GatewayAuthError{Op: "list_labels", Err: errors.New("401")}

	res, err := h.p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "a"), msg("m2", "b")})

	require.NoError(t, err)
	assert.Equal(t, 2, res.FailedCount)
	assert.Equal(t, 0, h.cls.totalCalls())
	assert.Equal(t, 1, h.gw.listCalls)
}

func TestReconcile_DraftsReplies(t *testing.T) {
	h := newHarness(t, Config{DraftReplies: true}, workLabel)
	h.cls.answers["Lunch?"] = func(int) (*domain.ClassificationResult, error) {
		return &domain.ClassificationResult{
			SuggestedLabels: []string{"Work"},
			Confidence:      0.7,
			NeedsReply:      true,
			SuggestedReply:  "Sure, noon works.",
		}, nil
	}

	res, err := h.p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "Lunch?")})

	require.NoError(t, err)
	assert.Equal(t, "draft-1", res.Outcomes["m1"].DraftID)
	require.Len(t, h.gw.drafts, 1)
	assert.Equal(t, "Re: Lunch?", h.gw.drafts[0].Subject)
	assert.Equal(t, "t-m1", h.gw.drafts[0].ThreadID)
	assert.Equal(t, "pm@co.com", h.gw.drafts[0].To)
}

type stubDrafter struct {
	body  string
	err   error
	calls int
}

func (d *stubDrafter) DraftReply(ctx context.Context, email domain.EmailInput, instructions string) (string, error) {
	d.calls++
	return d.body, d.err
}

func TestReconcile_DrafterWritesMissingReply(t *testing.T) {
	h := newHarness(t, Config{DraftReplies: true}, workLabel)
	drafter := &stubDrafter{body: "Thanks, will do."}
	p, err := NewPipeline(Deps{Gateway: h.gw, Classifier: h.cls, Ledger: h.ledger, Drafter: drafter},
		Config{DraftReplies: true, RetryBackoff: -1}, zerolog.Nop())
	require.NoError(t, err)

	h.cls.answers["Report due"] = func(int) (*domain.ClassificationResult, error) {
		return &domain.ClassificationResult{SuggestedLabels: []string{"Work"}, Confidence: 0.8, NeedsReply: true}, nil
	}

	res, err := p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "Report due")})

	require.NoError(t, err)
	assert.Equal(t, 1, drafter.calls)
	assert.Equal(t, "draft-1", res.Outcomes["m1"].DraftID)
	require.Len(t, h.gw.drafts, 1)
	assert.Equal(t, "Thanks, will do.", h.gw.drafts[0].Body)
}

func TestReconcile_DrafterFailureKeepsLabels(t *testing.T) {
	h := newHarness(t, Config{DraftReplies: true}, workLabel)
	drafter := &stubDrafter{err: errors.New("llm down")}
	p, err := NewPipeline(Deps{Gateway: h.gw, Classifier: h.cls, Ledger: h.ledger, Drafter: drafter},
		Config{DraftReplies: true, RetryBackoff: -1}, zerolog.Nop())
	require.NoError(t, err)

	h.cls.answers["Report due"] = func(int) (*domain.ClassificationResult, error) {
		return &domain.ClassificationResult{SuggestedLabels: []string{"Work"}, Confidence: 0.8, NeedsReply: true}, nil
	}

	res, err := p.Reconcile(context.Background(), testSession(), []*domain.Message{msg("m1", "Report due")})

	require.NoError(t, err)
	o := res.Outcomes["m1"]
	assert.Equal(t, domain.OutcomeApplied, o.State)
	assert.Equal(t, "llm down", o.DraftError)
	assert.Empty(t, h.gw.drafts)
}

func TestReconcileIDs_FetchesOnlyUnlabeled(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)
	h.gw.messages["m1"] = msg("m1", "a")
	h.gw.messages["m2"] = msg("m2", "b")
	h.ledger.entries[ledgerKey("user-1", "m1")] = &domain.LedgerEntry{UserID: "user-1", MessageID: "m1", Labels: []string{"Work"}}
	h.cls.answer("b", "Work")

	res, err := h.p.ReconcileIDs(context.Background(), testSession(), []string{"m1", "m2", "missing"})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyLabeled, res.Outcomes["m1"].State)
	assert.Equal(t, domain.OutcomeApplied, res.Outcomes["m2"].State)
	assert.Equal(t, domain.StageFetch, res.Outcomes["missing"].FailedStage)
	assert.Equal(t, 0, h.gw.getCalls["m1"])
	assert.Equal(t, 1, h.gw.getCalls["missing"])
}

func TestReconcileRecent_TagsRunReport(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)
	h.gw.messages["m1"] = msg("m1", "a")
	h.cls.answer("a", "Work")
	ctx := in.WithRunOptions(context.Background(), in.RunOptions{Trigger: "worker", Query: "in:inbox"})

	res, err := h.p.ReconcileRecent(ctx, testSession(), "in:inbox", 10)

	require.NoError(t, err)
	assert.Equal(t, 1, res.AppliedCount)
	runs, err := h.p.ListRuns(context.Background(), "user-1", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "worker", runs[0].Trigger)
	assert.Equal(t, "in:inbox", runs[0].Query)
}

func TestApplyLabel_MergesLedgerLabels(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)
	h.ledger.entries[ledgerKey("user-1", "m1")] = &domain.LedgerEntry{UserID: "user-1", MessageID: "m1", Labels: []string{"Work"}}

	o, err := h.p.ApplyLabel(context.Background(), testSession(), "m1", "Receipts")

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, o.State)
	assert.Equal(t, domain.LedgerUpdated, o.LedgerAction)
	assert.Equal(t, []string{"Work", "Receipts"}, h.ledger.get("user-1", "m1").Labels)
	assert.Equal(t, 1, h.gw.createCalls["Receipts"])
}

func TestApplyLabel_InvalidName(t *testing.T) {
	h := newHarness(t, Config{}, workLabel)

	_, err := h.p.ApplyLabel(context.Background(), testSession(), "m1", "  ")

	var le *domain.LabelCreationError
	assert.ErrorAs(t, err, &le)
	assert.Equal(t, 0, h.gw.totalModifyCalls())
}
