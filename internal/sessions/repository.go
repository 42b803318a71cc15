package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repository persists logout revocations. Get returns (nil, nil) when the
// user has no live revocation.
type Repository interface {
	Put(ctx context.Context, r *Revocation) error
	Get(ctx context.Context, org, userID string) (*Revocation, error)
	Delete(ctx context.Context, org, userID string) error
}

// MongoRepository implements Repository using a Mongo collection
type MongoRepository struct {
	col *mongo.Collection
}

// NewMongoRepository also creates the TTL index that lets Mongo drop expired revocations.
func NewMongoRepository(ctx context.Context, col *mongo.Collection) (*MongoRepository, error) {
	idx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "org", Value: 1}, {Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	}
	if _, err := col.Indexes().CreateMany(ctx, idx); err != nil {
		return nil, err
	}
	return &MongoRepository{col: col}, nil
}

func userFilter(org, userID string) bson.M {
	return bson.M{"org": org, "userId": userID}
}

func (r *MongoRepository) Put(ctx context.Context, rev *Revocation) error {
	_, err := r.col.ReplaceOne(ctx, userFilter(rev.Organization, rev.UserID), rev, options.Replace().SetUpsert(true))
	return err
}

func (r *MongoRepository) Get(ctx context.Context, org, userID string) (*Revocation, error) {
	var rev Revocation
	if err := r.col.FindOne(ctx, userFilter(org, userID)).Decode(&rev); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	// the TTL monitor runs once a minute
	if time.Now().UTC().After(rev.ExpiresAt) {
		return nil, nil
	}
	return &rev, nil
}

func (r *MongoRepository) Delete(ctx context.Context, org, userID string) error {
	_, err := r.col.DeleteOne(ctx, userFilter(org, userID))
	return err
}

// MemoryRepository keeps revocations in process memory. Used when no Redis
// is configured.
type MemoryRepository struct {
	mu    sync.Mutex
	items map[string]Revocation
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: map[string]Revocation{}, now: time.Now}
}

func memoryKey(org, userID string) string { return org + ":" + userID }

func (m *MemoryRepository) Put(_ context.Context, r *Revocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[memoryKey(r.Organization, r.UserID)] = *r
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, org, userID string) (*Revocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryKey(org, userID)
	r, ok := m.items[k]
	if !ok {
		return nil, nil
	}
	if m.now().After(r.ExpiresAt) {
		delete(m.items, k)
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryRepository) Delete(_ context.Context, org, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, memoryKey(org, userID))
	return nil
}
