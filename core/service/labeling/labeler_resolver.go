package labeling

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"labeler_server/core/domain"
	"labeler_server/core/port/out"
)

const (
	defaultGatewayTimeout = 15 * time.Second
	maxLabelNameLength    = 225
)

// reservedLabelNames are Gmail system label names users cannot create.
var reservedLabelNames = map[string]struct{}{
	"inbox": {}, "spam": {}, "trash": {}, "unread": {}, "starred": {},
	"important": {}, "sent": {}, "draft": {}, "drafts": {}, "chat": {},
	"chats": {}, "all mail": {}, "scheduled": {}, "snoozed": {},
}

// Snapshot is the label set of one mailbox, fetched once per batch and
// shared by every message in it. Only user labels can be looked up by name;
// system labels are never a resolution target.
type Snapshot struct {
	mu     sync.RWMutex
	labels []domain.GmailLabel
	byName map[string]domain.GmailLabel
}

func NewSnapshot(labels []domain.GmailLabel) *Snapshot {
	s := &Snapshot{}
	s.replace(labels)
	return s
}

func (s *Snapshot) replace(labels []domain.GmailLabel) {
	byName := make(map[string]domain.GmailLabel, len(labels))
	for _, l := range labels {
		if l.Type == domain.LabelTypeSystem {
			continue
		}
		key := domain.NormalizeLabelName(l.Name)
		if _, dup := byName[key]; !dup {
			byName[key] = l
		}
	}
	s.mu.Lock()
	s.labels = append([]domain.GmailLabel(nil), labels...)
	s.byName = byName
	s.mu.Unlock()
}

// Lookup finds a user label by name, case-insensitively.
func (s *Snapshot) Lookup(name string) (domain.GmailLabel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.byName[domain.NormalizeLabelName(name)]
	return l, ok
}

func (s *Snapshot) add(l domain.GmailLabel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.NormalizeLabelName(l.Name)
	if _, ok := s.byName[key]; ok || l.Type == domain.LabelTypeSystem {
		return
	}
	s.labels = append(s.labels, l)
	s.byName[key] = l
}

// UserLabelNames returns the names of user-created labels, in provider order.
func (s *Snapshot) UserLabelNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.labels))
	for _, l := range s.labels {
		if l.Type == domain.LabelTypeSystem {
			continue
		}
		names = append(names, l.Name)
	}
	return names
}

// Len returns the number of labels.
func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.labels)
}

// Resolution is the result of resolving suggested names.
// Names and IDs are parallel: one entry per distinct resolved name, in input order.
type Resolution struct {
	Names  []string
	IDs    []string
	Failed map[string]error
}

// Partial reports whether some, but not all, names were resolved.
func (r *Resolution) Partial() bool {
	return len(r.IDs) > 0 && len(r.Failed) > 0
}

// Err summarizes the failures when nothing was resolved.
func (r *Resolution) Err() error {
	if len(r.IDs) > 0 || len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, err := range r.Failed {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// FailedNames lists the names that could not be resolved.
func (r *Resolution) FailedNames() []string {
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	return names
}

// Resolver maps label names to Gmail label IDs, creating missing labels.
type Resolver struct {
	gateway out.MailGateway
	lock    out.CreationLock
	timeout time.Duration
	log     zerolog.Logger
}

func NewResolver(gateway out.MailGateway, lock out.CreationLock, timeout time.Duration, log zerolog.Logger) *Resolver {
	if lock == nil {
		lock = NewKeyedMutex()
	}
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &Resolver{
		gateway: gateway,
		lock:    lock,
		timeout: timeout,
		log:     log.With().Str("component", "label_resolver").Logger(),
	}
}

// Snapshot fetches the current label set of the session's mailbox.
func (r *Resolver) Snapshot(ctx context.Context, sess *out.Session) (*Snapshot, error) {
	labels, err := r.listLabels(ctx, sess)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(labels), nil
}

func (r *Resolver) listLabels(ctx context.Context, sess *out.Session) ([]domain.GmailLabel, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.gateway.ListLabels(ctx, sess)
}

// Resolve maps names to label IDs. Names are trimmed and de-duplicated
// case-insensitively before resolution; the first spelling wins. A name that
// cannot be resolved is recorded in Failed and the rest continue.
func (r *Resolver) Resolve(ctx context.Context, sess *out.Session, snap *Snapshot, names []string) *Resolution {
	res := &Resolution{Failed: make(map[string]error)}

	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		key := domain.NormalizeLabelName(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		label, err := r.resolveOne(ctx, sess, snap, name)
		if err != nil {
			r.log.Warn().Err(err).Str("user_id", sess.UserID).Str("label", name).Msg("label not resolved")
			res.Failed[name] = err
			continue
		}
		res.Names = append(res.Names, label.Name)
		res.IDs = append(res.IDs, label.ID)
	}
	return res
}

func (r *Resolver) resolveOne(ctx context.Context, sess *out.Session, snap *Snapshot, name string) (domain.GmailLabel, error) {
	if isReservedLabelName(name) {
		return domain.GmailLabel{}, &domain.LabelCreationError{Name: name, Reason: "reserved name"}
	}
	if l, ok := snap.Lookup(name); ok {
		return l, nil
	}
	if err := validateLabelName(name); err != nil {
		return domain.GmailLabel{}, err
	}

	// Creation is serialized per user and name so concurrent messages in the
	// batch (or other processes sharing the lock) create the label once.
	unlock, err := r.lock.Lock(ctx, sess.UserID+"\x00"+domain.NormalizeLabelName(name))
	if err != nil {
		return domain.GmailLabel{}, err
	}
	defer unlock()

	if l, ok := snap.Lookup(name); ok {
		return l, nil
	}

	created, err := r.createLabel(ctx, sess, name)
	if err == nil {
		snap.add(*created)
		r.log.Info().Str("user_id", sess.UserID).Str("label", created.Name).Str("label_id", created.ID).Msg("label created")
		return *created, nil
	}

	if isLabelConflict(err) {
		labels, listErr := r.listLabels(ctx, sess)
		if listErr != nil {
			return domain.GmailLabel{}, listErr
		}
		snap.replace(labels)
		if l, ok := snap.Lookup(name); ok {
			return l, nil
		}
		return domain.GmailLabel{}, &domain.LabelCreationError{Name: name, Reason: "conflicts with an existing label", Err: err}
	}

	var te *domain.GatewayTransportError
	if errors.As(err, &te) && te.StatusCode == http.StatusBadRequest {
		return domain.GmailLabel{}, &domain.LabelCreationError{Name: name, Reason: "rejected by provider", Err: err}
	}
	return domain.GmailLabel{}, err
}

func (r *Resolver) createLabel(ctx context.Context, sess *out.Session, name string) (*domain.GmailLabel, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.gateway.CreateLabel(ctx, sess, name)
}

func isLabelConflict(err error) bool {
	if errors.Is(err, domain.ErrLabelExists) {
		return true
	}
	var te *domain.GatewayTransportError
	return errors.As(err, &te) && te.StatusCode == http.StatusConflict
}

func validateLabelName(name string) error {
	switch {
	case name == "":
		return &domain.LabelCreationError{Name: name, Reason: "empty name"}
	case len(name) > maxLabelNameLength:
		return &domain.LabelCreationError{Name: name, Reason: "name too long"}
	case strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.Contains(name, "//"):
		return &domain.LabelCreationError{Name: name, Reason: "invalid nesting"}
	case isReservedLabelName(name):
		return &domain.LabelCreationError{Name: name, Reason: "reserved name"}
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return &domain.LabelCreationError{Name: name, Reason: "control character in name"}
		}
	}
	return nil
}

// isReservedLabelName reports whether name belongs to a Gmail system label.
func isReservedLabelName(name string) bool {
	if strings.HasPrefix(strings.ToUpper(name), "CATEGORY_") {
		return true
	}
	_, reserved := reservedLabelNames[domain.NormalizeLabelName(name)]
	return reserved
}
