// Package mongodb implements storage interfaces using MongoDB
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-ksef/internal/storage"
)

// Store implements storage.Store using MongoDB
type Store struct {
	client      *mongo.Client
	db          *mongo.Database
	submissions *mongo.Collection
}

// Config holds MongoDB connection settings
type Config struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "ksef"
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "submissions"
	}
	db := client.Database(database)

	s := &Store{
		client:      client,
		db:          db,
		submissions: db.Collection(collection),
	}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.submissions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ksef_number", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "seller_id", Value: 1}, {Key: "submitted_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "submitted_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("creating submission indexes: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// SubmissionStore implementation

func (s *Store) SaveSubmission(ctx context.Context, sub *storage.Submission) error {
	if sub.ID == "" {
		sub.ID = primitive.NewObjectID().Hex()
	}
	if sub.RecordedAt.IsZero() {
		sub.RecordedAt = time.Now().UTC()
	}

	_, err := s.submissions.ReplaceOne(ctx, bson.M{"_id": sub.ID}, sub, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving submission %s: %w", sub.ID, err)
	}
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (*storage.Submission, error) {
	var sub storage.Submission
	err := s.submissions.FindOne(ctx, bson.M{"_id": id}).Decode(&sub)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	return &sub, err
}

func (s *Store) GetSubmissionByKsefNumber(ctx context.Context, ksefNumber string) (*storage.Submission, error) {
	var sub storage.Submission
	err := s.submissions.FindOne(ctx, bson.M{"ksef_number": ksefNumber}).Decode(&sub)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	return &sub, err
}

func (s *Store) ListSubmissions(ctx context.Context, filter *storage.SubmissionFilter) ([]*storage.Submission, error) {
	opts := options.Find().SetSort(bson.D{{Key: "submitted_at", Value: -1}})
	if filter != nil {
		if filter.Limit > 0 {
			opts.SetLimit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			opts.SetSkip(int64(filter.Offset))
		}
	}

	cursor, err := s.submissions.Find(ctx, buildQuery(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var subs []*storage.Submission
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *Store) CountSubmissions(ctx context.Context, filter *storage.SubmissionFilter) (int64, error) {
	return s.submissions.CountDocuments(ctx, buildQuery(filter))
}

// buildQuery translates a filter into a MongoDB query document
func buildQuery(filter *storage.SubmissionFilter) bson.M {
	query := bson.M{}
	if filter == nil {
		return query
	}
	if filter.SellerID != "" {
		query["seller_id"] = filter.SellerID
	}
	if filter.Failed != nil {
		if *filter.Failed {
			query["status"] = bson.M{"$gte": 400}
		} else {
			query["status"] = bson.M{"$lt": 400}
		}
	}
	if filter.Since != nil {
		query["submitted_at"] = bson.M{"$gte": *filter.Since}
	}
	return query
}

var _ storage.Store = (*Store)(nil)
