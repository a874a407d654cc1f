package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fedutinova/readnote/internal/common"
	"github.com/fedutinova/readnote/internal/job"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type jobDocument struct {
	NoteID        string    `bson:"_id"`
	Status        string    `bson:"status"`
	ExtractedText string    `bson:"extractedText,omitempty"`
	DerivedQuote  *string   `bson:"derivedQuote,omitempty"`
	DerivedMemo   *string   `bson:"derivedMemo,omitempty"`
	Error         string    `bson:"error,omitempty"`
	Attempt       int64     `bson:"attempt"`
	CreatedAt     time.Time `bson:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

func (d jobDocument) toJob() (*job.Job, error) {
	id, err := uuid.Parse(d.NoteID)
	if err != nil {
		return nil, fmt.Errorf("bad note id %q: %w", d.NoteID, err)
	}
	return &job.Job{
		NoteID:        id,
		Status:        job.Status(d.Status),
		ExtractedText: d.ExtractedText,
		DerivedQuote:  d.DerivedQuote,
		DerivedMemo:   d.DerivedMemo,
		Error:         d.Error,
		Attempt:       d.Attempt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}, nil
}

type Mongo struct {
	col *mongo.Collection
}

func NewMongo(col *mongo.Collection) *Mongo {
	return &Mongo{col: col}
}

// ConnectMongo opens a client and returns the jobs collection of database.
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Collection, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create MongoDB client: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, client.Database(database).Collection("ocr_jobs"), nil
}

func (m *Mongo) Arm(ctx context.Context, noteID uuid.UUID, now time.Time) (*job.Job, error) {
	update := bson.M{
		"$set": bson.M{
			"status":    string(job.StatusProcessing),
			"createdAt": now,
			"updatedAt": now,
		},
		"$unset": bson.M{
			"extractedText": "",
			"derivedQuote":  "",
			"derivedMemo":   "",
			"error":         "",
		},
		"$inc": bson.M{"attempt": 1},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc jobDocument
	err := m.col.FindOneAndUpdate(ctx, bson.M{"_id": noteID.String()}, update, opts).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("arm job: %w", err)
	}
	return doc.toJob()
}

func (m *Mongo) Get(ctx context.Context, noteID uuid.UUID) (*job.Job, error) {
	var doc jobDocument
	err := m.col.FindOne(ctx, bson.M{"_id": noteID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, common.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return doc.toJob()
}

func (m *Mongo) Complete(ctx context.Context, noteID uuid.UUID, attempt int64, res job.Result, now time.Time) error {
	if err := validateResult(res); err != nil {
		return err
	}
	set := bson.M{
		"status":        string(job.StatusCompleted),
		"extractedText": res.Text,
		"updatedAt":     now,
	}
	if res.Quote != nil {
		set["derivedQuote"] = *res.Quote
	}
	if res.Memo != nil {
		set["derivedMemo"] = *res.Memo
	}
	return m.settle(ctx, noteID, attempt, set)
}

func (m *Mongo) Fail(ctx context.Context, noteID uuid.UUID, attempt int64, reason string, now time.Time) error {
	return m.settle(ctx, noteID, attempt, bson.M{
		"status":    string(job.StatusFailed),
		"error":     reason,
		"updatedAt": now,
	})
}

func (m *Mongo) settle(ctx context.Context, noteID uuid.UUID, attempt int64, set bson.M) error {
	filter := bson.M{
		"_id":     noteID.String(),
		"status":  string(job.StatusProcessing),
		"attempt": attempt,
	}
	res, err := m.col.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("settle job: %w", err)
	}
	if res.MatchedCount == 0 {
		return settleError(ctx, m, noteID)
	}
	return nil
}
