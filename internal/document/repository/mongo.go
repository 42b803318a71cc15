package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/aiqsync/datasync/internal/document"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepo implements Store on a MongoDB collection. There is one record per
// document; tenant scopes exist only as the (org, solution) fields of those
// records, so an empty scope leaves nothing behind. A unique index on
// (org, solution, docId) turns concurrent inserts into duplicate key errors,
// and updates/deletes filter on the full reference so the match is the CAS.
type MongoRepo struct {
	col *mongo.Collection
}

// mongoDocument is the persisted form. Body is kept as the raw JSON text so
// it comes back byte-for-byte.
type mongoDocument struct {
	Organization string `bson:"org"`
	Solution     string `bson:"solution"`
	ID           string `bson:"docId"`
	Type         string `bson:"type"`
	Revision     int64  `bson:"rev"`
	Body         string `bson:"body"`
}

// NewMongoRepo wraps col and ensures the unique tenant/id index exists.
func NewMongoRepo(ctx context.Context, col *mongo.Collection) (*MongoRepo, error) {
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "org", Value: 1}, {Key: "solution", Value: 1}, {Key: "docId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("tenant_doc_unique"),
	}
	if _, err := col.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("create documents index: %w", err)
	}
	return &MongoRepo{col: col}, nil
}

var _ Store = (*MongoRepo)(nil)

func tenantFilter(t document.Tenant) bson.D {
	return bson.D{{Key: "org", Value: t.Organization}, {Key: "solution", Value: t.Solution}}
}

// referenceFilter matches the live record only if id, type and revision all
// equal ref.
func referenceFilter(t document.Tenant, ref document.Reference) (bson.D, error) {
	rev, err := toInt64(ref.Revision)
	if err != nil {
		return nil, err
	}
	return append(tenantFilter(t),
		bson.E{Key: "docId", Value: ref.ID},
		bson.E{Key: "type", Value: ref.Type},
		bson.E{Key: "rev", Value: rev},
	), nil
}

func toInt64(rev uint64) (int64, error) {
	if rev > math.MaxInt64 {
		return 0, fmt.Errorf("%w: revision %d out of range", document.ErrPreconditionFailed, rev)
	}
	return int64(rev), nil
}

func newMongoDocument(t document.Tenant, d document.Document) (mongoDocument, error) {
	rev, err := toInt64(d.Revision)
	if err != nil {
		return mongoDocument{}, err
	}
	return mongoDocument{
		Organization: t.Organization,
		Solution:     t.Solution,
		ID:           d.ID,
		Type:         d.Type,
		Revision:     rev,
		Body:         string(d.Body),
	}, nil
}

func (m *MongoRepo) List(ctx context.Context, t document.Tenant) ([]document.Reference, error) {
	opts := options.Find().SetProjection(bson.D{{Key: "docId", Value: 1}, {Key: "type", Value: 1}, {Key: "rev", Value: 1}})
	cur, err := m.col.Find(ctx, tenantFilter(t), opts)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t, err)
	}
	defer cur.Close(ctx)
	out := []document.Reference{}
	for cur.Next(ctx) {
		var d mongoDocument
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("list %s: %w", t, err)
		}
		out = append(out, document.Reference{ID: d.ID, Type: d.Type, Revision: uint64(d.Revision)})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", t, err)
	}
	return out, nil
}

func (m *MongoRepo) Retrieve(ctx context.Context, t document.Tenant, id string) (json.RawMessage, error) {
	var d mongoDocument
	filter := append(tenantFilter(t), bson.E{Key: "docId", Value: id})
	if err := m.col.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, document.ErrNotFound
		}
		return nil, fmt.Errorf("retrieve %s in %s: %w", id, t, err)
	}
	return json.RawMessage(d.Body), nil
}

func (m *MongoRepo) Insert(ctx context.Context, t document.Tenant, ref document.Reference, body json.RawMessage) (uint64, error) {
	const initialRevision = 1
	doc, err := newRevision(ref, initialRevision, body)
	if err != nil {
		return 0, err
	}
	rec, err := newMongoDocument(t, doc)
	if err != nil {
		return 0, err
	}
	if _, err := m.col.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("insert %s in %s: %w", ref.ID, t, document.ErrConflict)
		}
		return 0, fmt.Errorf("insert %s in %s: %w", ref.ID, t, err)
	}
	return initialRevision, nil
}

func (m *MongoRepo) Update(ctx context.Context, t document.Tenant, ref document.Reference, body json.RawMessage) (uint64, error) {
	updated := ref.Revision + 1
	doc, err := newRevision(ref, updated, body)
	if err != nil {
		return 0, err
	}
	filter, err := referenceFilter(t, ref)
	if err != nil {
		return 0, err
	}
	rec, err := newMongoDocument(t, doc)
	if err != nil {
		return 0, err
	}
	res, err := m.col.ReplaceOne(ctx, filter, rec)
	if err != nil {
		return 0, fmt.Errorf("update %s in %s: %w", ref, t, err)
	}
	if res.MatchedCount == 0 {
		return 0, fmt.Errorf("update %s in %s: %w", ref, t, document.ErrPreconditionFailed)
	}
	return updated, nil
}

func (m *MongoRepo) Delete(ctx context.Context, t document.Tenant, ref document.Reference) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	filter, err := referenceFilter(t, ref)
	if err != nil {
		return err
	}
	res, err := m.col.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete %s in %s: %w", ref, t, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete %s in %s: %w", ref, t, document.ErrPreconditionFailed)
	}
	return nil
}
