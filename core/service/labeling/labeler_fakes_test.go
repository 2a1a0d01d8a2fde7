package labeling

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"labeler_server/core/domain"
	"labeler_server/core/port/out"
)

type staticTokens struct{}

func (staticTokens) Token(context.Context, string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "tok"}, nil
}

func (staticTokens) Refresh(context.Context, string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "tok2"}, nil
}

func testSession() *out.Session {
	return &out.Session{UserID: "user-1", Tokens: staticTokens{}}
}

// fakeGateway is an in-memory mailbox.
type fakeGateway struct {
	mu       sync.Mutex
	labels   []domain.GmailLabel
	messages map[string]*domain.Message
	nextID   int

	listCalls   int
	createCalls map[string]int
	modifyCalls map[string][][]string
	getCalls    map[string]int
	drafts      []*out.DraftRequest

	listErr   error
	createErr func(name string) error
	modifyErr func(messageID string, call int) error
	// hiddenOnCreate simulates another process having created the label:
	// CreateLabel answers 409 and the label shows up on the next list.
	hiddenOnCreate map[string]domain.GmailLabel
}

func newFakeGateway(labels ...domain.GmailLabel) *fakeGateway {
	return &fakeGateway{
		labels:      labels,
		messages:    make(map[string]*domain.Message),
		createCalls: make(map[string]int),
		modifyCalls: make(map[string][][]string),
		getCalls:    make(map[string]int),
	}
}

func (g *fakeGateway) ListLabels(ctx context.Context, sess *out.Session) ([]domain.GmailLabel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls++
	if g.listErr != nil {
		return nil, g.listErr
	}
	return append([]domain.GmailLabel(nil), g.labels...), nil
}

func (g *fakeGateway) CreateLabel(ctx context.Context, sess *out.Session, name string) (*domain.GmailLabel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls[name]++
	if g.createErr != nil {
		if err := g.createErr(name); err != nil {
			return nil, err
		}
	}
	if l, ok := g.hiddenOnCreate[name]; ok {
		g.labels = append(g.labels, l)
		delete(g.hiddenOnCreate, name)
		return nil, &domain.GatewayTransportError{Op: "create_label", StatusCode: 409, Err: domain.ErrLabelExists}
	}
	for _, l := range g.labels {
		if strings.EqualFold(l.Name, name) {
			return nil, &domain.GatewayTransportError{Op: "create_label", StatusCode: 409, Err: domain.ErrLabelExists}
		}
	}
	g.nextID++
	l := domain.GmailLabel{ID: fmt.Sprintf("Label_new_%d", g.nextID), Name: name, Type: domain.LabelTypeUser}
	g.labels = append(g.labels, l)
	return &l, nil
}

func (g *fakeGateway) ModifyMessageLabels(ctx context.Context, sess *out.Session, messageID string, addLabelIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modifyCalls[messageID] = append(g.modifyCalls[messageID], addLabelIDs)
	if g.modifyErr != nil {
		return g.modifyErr(messageID, len(g.modifyCalls[messageID]))
	}
	return nil
}

func (g *fakeGateway) ListMessages(ctx context.Context, sess *out.Session, query string, maxResults int64) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.messages))
	for id := range g.messages {
		ids = append(ids, id)
	}
	return ids, nil
}

func (g *fakeGateway) GetMessage(ctx context.Context, sess *out.Session, messageID string) (*domain.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls[messageID]++
	m, ok := g.messages[messageID]
	if !ok {
		return nil, &domain.GatewayTransportError{Op: "get_message", StatusCode: 404, Err: fmt.Errorf("not found")}
	}
	return m, nil
}

func (g *fakeGateway) CreateDraft(ctx context.Context, sess *out.Session, req *out.DraftRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drafts = append(g.drafts, req)
	return fmt.Sprintf("draft-%d", len(g.drafts)), nil
}

func (g *fakeGateway) SendMessage(ctx context.Context, sess *out.Session, req *out.SendRequest) (string, error) {
	return "sent-1", nil
}

func (g *fakeGateway) totalModifyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, calls := range g.modifyCalls {
		n += len(calls)
	}
	return n
}

func (g *fakeGateway) totalCreateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.createCalls {
		n += c
	}
	return n
}

// fakeClassifier answers by message subject.
type fakeClassifier struct {
	mu      sync.Mutex
	calls   map[string]int
	answers map[string]func(call int) (*domain.ClassificationResult, error)
	onCall  func(subject string)
	seen    [][]string
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{
		calls:   make(map[string]int),
		answers: make(map[string]func(int) (*domain.ClassificationResult, error)),
	}
}

func (c *fakeClassifier) answer(subject string, labels ...string) {
	c.answers[subject] = func(int) (*domain.ClassificationResult, error) {
		return &domain.ClassificationResult{SuggestedLabels: labels, Confidence: 0.9, Reasoning: "because"}, nil
	}
}

func (c *fakeClassifier) Classify(ctx context.Context, email domain.EmailInput, existing []string) (*domain.ClassificationResult, error) {
	c.mu.Lock()
	c.calls[email.Subject]++
	call := c.calls[email.Subject]
	c.seen = append(c.seen, existing)
	fn := c.answers[email.Subject]
	onCall := c.onCall
	c.mu.Unlock()

	if onCall != nil {
		onCall(email.Subject)
	}
	if fn == nil {
		return &domain.ClassificationResult{SuggestedLabels: []string{}, Confidence: 0.1}, nil
	}
	return fn(call)
}

func (c *fakeClassifier) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

// fakeLedgerStore is an in-memory LedgerStore.
type fakeLedgerStore struct {
	mu        sync.Mutex
	entries   map[string]*domain.LedgerEntry
	findErr   error
	upsertErr error
	block     bool
	upserts   int
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{entries: make(map[string]*domain.LedgerEntry)}
}

func ledgerKey(userID, messageID string) string { return userID + "/" + messageID }

func (s *fakeLedgerStore) FindByMessageIDs(ctx context.Context, userID string, ids []string) (map[string]*domain.LedgerEntry, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	found := make(map[string]*domain.LedgerEntry)
	for _, id := range ids {
		if e, ok := s.entries[ledgerKey(userID, id)]; ok {
			found[id] = e
		}
	}
	return found, nil
}

func (s *fakeLedgerStore) Upsert(ctx context.Context, entry *domain.LedgerEntry) (domain.LedgerAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.upsertErr != nil {
		return "", s.upsertErr
	}
	key := ledgerKey(entry.UserID, entry.MessageID)
	_, exists := s.entries[key]
	cp := *entry
	s.entries[key] = &cp
	if exists {
		return domain.LedgerUpdated, nil
	}
	return domain.LedgerCreated, nil
}

func (s *fakeLedgerStore) Delete(ctx context.Context, userID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ledgerKey(userID, messageID)
	if _, ok := s.entries[key]; !ok {
		return domain.ErrLedgerEntryNotFound
	}
	delete(s.entries, key)
	return nil
}

func (s *fakeLedgerStore) get(userID, messageID string) *domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[ledgerKey(userID, messageID)]
}

// fakeRunStore records saved reports.
type fakeRunStore struct {
	mu      sync.Mutex
	reports []*domain.RunReport
}

func (s *fakeRunStore) Save(ctx context.Context, r *domain.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func (s *fakeRunStore) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*domain.RunReport
	for i := len(s.reports) - 1; i >= 0 && len(res) < limit; i-- {
		if s.reports[i].UserID == userID {
			res = append(res, s.reports[i])
		}
	}
	return res, nil
}

func msg(id, subject string) *domain.Message {
	return &domain.Message{ID: id, ThreadID: "t-" + id, Subject: subject, From: "pm@co.com", Snippet: "body of " + id}
}
