package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aiqsync/datasync/internal/document"
)

// Store is the revision-controlled document store contract shared by the
// memory, Mongo and Redis implementations.
//
// Insert assigns revision 1 and fails with document.ErrConflict when the id is
// taken. Update and Delete compare the full reference (id, type, revision)
// against the live document and fail with document.ErrPreconditionFailed on
// any mismatch. Every write stamps the new revision into the body under
// document.RevisionField. A failed write leaves the store unchanged.
type Store interface {
	List(ctx context.Context, t document.Tenant) ([]document.Reference, error)
	Retrieve(ctx context.Context, t document.Tenant, id string) (json.RawMessage, error)
	Insert(ctx context.Context, t document.Tenant, ref document.Reference, body json.RawMessage) (uint64, error)
	Update(ctx context.Context, t document.Tenant, ref document.Reference, body json.RawMessage) (uint64, error)
	Delete(ctx context.Context, t document.Tenant, ref document.Reference) error
}

// Record is a document together with the tenant it belongs to.
type Record struct {
	Tenant   document.Tenant
	Document document.Document
}

// MemoryRepo keeps documents in process memory. Writes never block each
// other beyond the per-tenant critical section of the compare-and-swap.
type MemoryRepo struct {
	ks *keyspace
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{ks: newKeyspace()}
}

var _ Store = (*MemoryRepo)(nil)

func (m *MemoryRepo) List(_ context.Context, t document.Tenant) ([]document.Reference, error) {
	s, ok := m.ks.Resolve(t)
	if !ok {
		return []document.Reference{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]document.Reference, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d.Reference)
	}
	return out, nil
}

func (m *MemoryRepo) Retrieve(_ context.Context, t document.Tenant, id string) (json.RawMessage, error) {
	s, ok := m.ks.Resolve(t)
	if !ok {
		return nil, document.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, document.ErrNotFound
	}
	return document.Clone(d.Body), nil
}

func (m *MemoryRepo) Insert(_ context.Context, t document.Tenant, ref document.Reference, body json.RawMessage) (uint64, error) {
	const initialRevision = 1
	doc, err := newRevision(ref, initialRevision, body)
	if err != nil {
		return 0, err
	}
	for {
		s := m.ks.Ensure(t)
		s.mu.Lock()
		if s.detached {
			s.mu.Unlock()
			continue
		}
		if _, taken := s.docs[ref.ID]; taken {
			s.mu.Unlock()
			return 0, fmt.Errorf("insert %s in %s: %w", ref.ID, t, document.ErrConflict)
		}
		s.docs[ref.ID] = doc
		s.mu.Unlock()
		return initialRevision, nil
	}
}

func (m *MemoryRepo) Update(_ context.Context, t document.Tenant, ref document.Reference, body json.RawMessage) (uint64, error) {
	updated := ref.Revision + 1
	doc, err := newRevision(ref, updated, body)
	if err != nil {
		return 0, err
	}
	s, ok := m.ks.Resolve(t)
	if !ok {
		return 0, fmt.Errorf("update %s in %s: %w", ref, t, document.ErrPreconditionFailed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.docs[ref.ID]; !ok || cur.Reference != ref {
		return 0, fmt.Errorf("update %s in %s: %w", ref, t, document.ErrPreconditionFailed)
	}
	s.docs[ref.ID] = doc
	return updated, nil
}

func (m *MemoryRepo) Delete(_ context.Context, t document.Tenant, ref document.Reference) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	s, ok := m.ks.Resolve(t)
	if !ok {
		return fmt.Errorf("delete %s in %s: %w", ref, t, document.ErrPreconditionFailed)
	}
	s.mu.Lock()
	if cur, ok := s.docs[ref.ID]; !ok || cur.Reference != ref {
		s.mu.Unlock()
		return fmt.Errorf("delete %s in %s: %w", ref, t, document.ErrPreconditionFailed)
	}
	delete(s.docs, ref.ID)
	empty := len(s.docs) == 0
	s.mu.Unlock()

	if empty {
		m.ks.Prune(t)
	}
	return nil
}

// Tenants lists the tenant scopes that currently hold documents.
func (m *MemoryRepo) Tenants() []document.Tenant {
	return m.ks.Tenants()
}

// Export copies every document out of the store.
func (m *MemoryRepo) Export() []Record {
	var out []Record
	for _, t := range m.ks.Tenants() {
		s, ok := m.ks.Resolve(t)
		if !ok {
			continue
		}
		s.mu.RLock()
		for _, d := range s.docs {
			out = append(out, Record{Tenant: t, Document: document.Document{Reference: d.Reference, Body: document.Clone(d.Body)}})
		}
		s.mu.RUnlock()
	}
	return out
}

// Import loads a previously exported document, keeping its revision. It fails
// with document.ErrConflict when the id is already present in the tenant.
func (m *MemoryRepo) Import(rec Record) error {
	if err := rec.Tenant.Validate(); err != nil {
		return err
	}
	if rec.Document.Revision == 0 {
		return fmt.Errorf("import %s: %w: revision 0", rec.Document.Reference, document.ErrValidation)
	}
	doc, err := newRevision(rec.Document.Reference, rec.Document.Revision, rec.Document.Body)
	if err != nil {
		return err
	}
	for {
		s := m.ks.Ensure(rec.Tenant)
		s.mu.Lock()
		if s.detached {
			s.mu.Unlock()
			continue
		}
		if _, taken := s.docs[doc.ID]; taken {
			s.mu.Unlock()
			return fmt.Errorf("import %s in %s: %w", doc.ID, rec.Tenant, document.ErrConflict)
		}
		s.docs[doc.ID] = doc
		s.mu.Unlock()
		return nil
	}
}

// newRevision builds the stored form of ref at revision rev, stamping rev into body.
func newRevision(ref document.Reference, rev uint64, body json.RawMessage) (document.Document, error) {
	if err := ref.Validate(); err != nil {
		return document.Document{}, err
	}
	stamped, err := document.StampRevision(body, rev)
	if err != nil {
		return document.Document{}, err
	}
	return document.Document{Reference: ref.WithRevision(rev), Body: stamped}, nil
}
