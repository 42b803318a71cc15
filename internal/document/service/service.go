package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aiqsync/datasync/internal/document"
	"github.com/aiqsync/datasync/internal/document/repository"
	"github.com/aiqsync/datasync/pkg/logger"
	"github.com/aiqsync/datasync/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Service defines the document operations used by the handler layer. Every
// identifier is validated before the store is reached.
type Service interface {
	List(ctx context.Context, t document.Tenant, userID string) ([]document.Reference, error)
	Retrieve(ctx context.Context, t document.Tenant, id string) (json.RawMessage, uint64, error)
	Insert(ctx context.Context, t document.Tenant, ref document.Reference, body json.RawMessage) (uint64, error)
	Update(ctx context.Context, t document.Tenant, ref document.Reference, body json.RawMessage) (uint64, error)
	Delete(ctx context.Context, t document.Tenant, ref document.Reference) error
}

// ReferenceFilter narrows a tenant listing to what a given user should see.
// userID may be empty; unknown users must be treated like an empty userID.
// Filters only drop references, they never change them.
type ReferenceFilter interface {
	Filter(ctx context.Context, t document.Tenant, userID string, refs []document.Reference) ([]document.Reference, error)
}

// Option configures a Service.
type Option func(*storeService)

// WithFilter installs a per-user listing filter.
func WithFilter(f ReferenceFilter) Option {
	return func(s *storeService) { s.filter = f }
}

// New returns a Service over any repository.Store.
func New(store repository.Store, opts ...Option) Service {
	s := &storeService{store: store, log: logger.Named("documents")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewMemoryService returns a Service backed by the in-memory repository.
func NewMemoryService(opts ...Option) Service {
	return New(repository.NewMemoryRepo(), opts...)
}

// NewMongoService returns a Service backed by a MongoDB collection.
// Caller is responsible for creating the collection (and client) and passing it in.
func NewMongoService(ctx context.Context, col *mongo.Collection, opts ...Option) (Service, error) {
	repo, err := repository.NewMongoRepo(ctx, col)
	if err != nil {
		return nil, err
	}
	return New(repo, opts...), nil
}

// NewRedisService returns a Service backed by Redis under the given key prefix.
func NewRedisService(client *redis.Client, prefix string, opts ...Option) Service {
	return New(repository.NewRedisRepo(client, prefix), opts...)
}

type storeService struct {
	store  repository.Store
	filter ReferenceFilter
	log    *zap.SugaredLogger
}

func (s *storeService) List(ctx context.Context, t document.Tenant, userID string) ([]document.Reference, error) {
	refs, err := s.list(ctx, t, userID)
	record("list", err)
	return refs, err
}

func (s *storeService) list(ctx context.Context, t document.Tenant, userID string) ([]document.Reference, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	refs, err := s.store.List(ctx, t)
	if err != nil {
		return nil, err
	}
	if s.filter == nil {
		return refs, nil
	}
	filtered, err := s.filter.Filter(ctx, t, userID, refs)
	if err != nil {
		return nil, fmt.Errorf("filter listing for user %q: %w", userID, err)
	}
	return filtered, nil
}

func (s *storeService) Retrieve(ctx context.Context, t document.Tenant, id string) (json.RawMessage, uint64, error) {
	body, rev, err := s.retrieve(ctx, t, id)
	record("retrieve", err)
	return body, rev, err
}

func (s *storeService) retrieve(ctx context.Context, t document.Tenant, id string) (json.RawMessage, uint64, error) {
	if err := t.Validate(); err != nil {
		return nil, 0, err
	}
	if err := document.ValidateIdentifier("document id", id); err != nil {
		return nil, 0, err
	}
	body, err := s.store.Retrieve(ctx, t, id)
	if err != nil {
		return nil, 0, err
	}
	rev, err := document.RevisionOf(body)
	if err != nil {
		return nil, 0, fmt.Errorf("stored document %s in %s: %w", id, t, err)
	}
	return body, rev, nil
}

func (s *storeService) Insert(ctx context.Context, t document.Tenant, ref document.Reference, body json.RawMessage) (uint64, error) {
	rev, err := s.write(t, ref, func() (uint64, error) { return s.store.Insert(ctx, t, ref, body) })
	record("insert", err)
	if err != nil {
		s.log.Warnw("insert failed", "tenant", t.String(), "doc", ref.ID, "type", ref.Type, "error", err)
		return 0, err
	}
	s.log.Debugw("inserted", "tenant", t.String(), "doc", ref.ID, "type", ref.Type, "rev", rev)
	return rev, nil
}

func (s *storeService) Update(ctx context.Context, t document.Tenant, ref document.Reference, body json.RawMessage) (uint64, error) {
	rev, err := s.write(t, ref, func() (uint64, error) { return s.store.Update(ctx, t, ref, body) })
	record("update", err)
	if err != nil {
		s.log.Warnw("update failed", "tenant", t.String(), "doc", ref.ID, "type", ref.Type, "expected", ref.Revision, "error", err)
		return 0, err
	}
	s.log.Debugw("updated", "tenant", t.String(), "doc", ref.ID, "type", ref.Type, "rev", rev)
	return rev, nil
}

func (s *storeService) Delete(ctx context.Context, t document.Tenant, ref document.Reference) error {
	_, err := s.write(t, ref, func() (uint64, error) { return 0, s.store.Delete(ctx, t, ref) })
	record("delete", err)
	if err != nil {
		s.log.Warnw("delete failed", "tenant", t.String(), "doc", ref.ID, "type", ref.Type, "expected", ref.Revision, "error", err)
		return err
	}
	s.log.Debugw("deleted", "tenant", t.String(), "doc", ref.ID, "type", ref.Type)
	return nil
}

func (s *storeService) write(t document.Tenant, ref document.Reference, op func() (uint64, error)) (uint64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if err := ref.Validate(); err != nil {
		return 0, err
	}
	return op()
}

// Outcome classifies an operation result for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, document.ErrValidation):
		return "validation"
	case errors.Is(err, document.ErrConflict):
		return "conflict"
	case errors.Is(err, document.ErrPreconditionFailed):
		return "precondition_failed"
	case errors.Is(err, document.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func record(op string, err error) {
	metrics.DocumentOperations.WithLabelValues(op, Outcome(err)).Inc()
}
