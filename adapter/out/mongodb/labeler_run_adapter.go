package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"labeler_server/core/domain"
	"labeler_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionRuns = "labeling_runs"

	// per-message lines above this size are stored gzipped
	runCompressionThreshold = 512

	defaultRunRetention = 30 * 24 * time.Hour
)

// RunAdapter implements out.RunStore using MongoDB.
type RunAdapter struct {
	collection *mongo.Collection
	retention  time.Duration
}

var _ out.RunStore = (*RunAdapter)(nil)

// NewRunAdapter creates a run history adapter. Runs expire after retention.
func NewRunAdapter(db *mongo.Database, retention time.Duration) *RunAdapter {
	if retention <= 0 {
		retention = defaultRunRetention
	}
	return &RunAdapter{
		collection: db.Collection(collectionRuns),
		retention:  retention,
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *RunAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "started_at", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// runDocument represents the MongoDB document structure.
type runDocument struct {
	ID      string `bson:"id"`
	UserID  string `bson:"user_id"`
	Trigger string `bson:"trigger"`
	Query   string `bson:"query,omitempty"`

	StartedAt  time.Time `bson:"started_at"`
	FinishedAt time.Time `bson:"finished_at"`

	Candidates   int `bson:"candidates"`
	AppliedCount int `bson:"applied_count"`
	FailedCount  int `bson:"failed_count"`
	SkippedCount int `bson:"skipped_count"`
	NoLabelCount int `bson:"no_label_count"`

	// Messages is the JSON encoding of the per-message lines.
	Messages     []byte `bson:"messages"`
	IsCompressed bool   `bson:"is_compressed"`

	ExpiresAt time.Time `bson:"expires_at"`
}

// Save stores report, replacing any run with the same ID.
func (a *RunAdapter) Save(ctx context.Context, report *domain.RunReport) error {
	doc, err := a.toDocument(report)
	if err != nil {
		return fmt.Errorf("failed to convert run to document: %w", err)
	}

	_, err = a.collection.ReplaceOne(ctx, bson.M{"id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// ListByUser returns the newest runs for userID first.
func (a *RunAdapter) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.RunReport, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := a.collection.Find(ctx, bson.M{"user_id": userID}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer cursor.Close(ctx)

	runs := []*domain.RunReport{}
	for cursor.Next(ctx) {
		var doc runDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}
		run, err := fromDocument(&doc)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func (a *RunAdapter) toDocument(r *domain.RunReport) (*runDocument, error) {
	lines, err := json.Marshal(r.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages: %w", err)
	}

	compressed := false
	if len(lines) > runCompressionThreshold {
		if lines, err = compress(lines); err != nil {
			return nil, fmt.Errorf("failed to compress messages: %w", err)
		}
		compressed = true
	}

	return &runDocument{
		ID:           r.ID.String(),
		UserID:       r.UserID,
		Trigger:      r.Trigger,
		Query:        r.Query,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Candidates:   r.Candidates,
		AppliedCount: r.AppliedCount,
		FailedCount:  r.FailedCount,
		SkippedCount: r.SkippedCount,
		NoLabelCount: r.NoLabelCount,
		Messages:     lines,
		IsCompressed: compressed,
		ExpiresAt:    r.FinishedAt.Add(a.retention),
	}, nil
}

func fromDocument(doc *runDocument) (*domain.RunReport, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run ID: %w", err)
	}

	lines := doc.Messages
	if doc.IsCompressed {
		if lines, err = decompress(lines); err != nil {
			return nil, fmt.Errorf("failed to decompress messages: %w", err)
		}
	}

	messages := []domain.RunMessageLine{}
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &messages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
		}
	}

	return &domain.RunReport{
		ID:           id,
		UserID:       doc.UserID,
		Trigger:      doc.Trigger,
		Query:        doc.Query,
		StartedAt:    doc.StartedAt,
		FinishedAt:   doc.FinishedAt,
		Candidates:   doc.Candidates,
		AppliedCount: doc.AppliedCount,
		FailedCount:  doc.FailedCount,
		SkippedCount: doc.SkippedCount,
		NoLabelCount: doc.NoLabelCount,
		Messages:     messages,
	}, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
