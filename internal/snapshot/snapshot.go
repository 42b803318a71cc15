// Package snapshot persists the in-memory document store to object storage so
// a restarted instance comes back with the documents it had.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aiqsync/datasync/internal/document"
	"github.com/aiqsync/datasync/internal/document/repository"
	"github.com/aiqsync/datasync/internal/storage"
	"github.com/aiqsync/datasync/pkg/logger"
	"github.com/aiqsync/datasync/pkg/metrics"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const formatVersion = 1

// Source is the store being snapshotted. *repository.MemoryRepo implements it.
type Source interface {
	Export() []repository.Record
	Import(rec repository.Record) error
}

type entry struct {
	Organization string          `json:"org"`
	Solution     string          `json:"solution"`
	ID           string          `json:"_id"`
	Type         string          `json:"_type"`
	Revision     uint64          `json:"_rev"`
	Body         json.RawMessage `json:"body"`
}

type file struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	Documents []entry   `json:"documents"`
}

// Manager saves and restores one snapshot object.
type Manager struct {
	src   Source
	store storage.ObjectStore
	key   string
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewManager(src Source, store storage.ObjectStore, key string) *Manager {
	return &Manager{src: src, store: store, key: key, log: logger.Named("snapshot"), now: time.Now}
}

// Save writes every document of the source as one JSON object. It returns
// the number of documents written.
func (m *Manager) Save(ctx context.Context) (int, error) {
	records := m.src.Export()
	f := file{Version: formatVersion, CreatedAt: m.now().UTC(), Documents: make([]entry, 0, len(records))}
	for _, r := range records {
		f.Documents = append(f.Documents, entry{
			Organization: r.Tenant.Organization,
			Solution:     r.Tenant.Solution,
			ID:           r.Document.ID,
			Type:         r.Document.Type,
			Revision:     r.Document.Revision,
			Body:         r.Document.Body,
		})
	}
	data, err := json.Marshal(f)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := m.store.Put(ctx, m.key, data, "application/json"); err != nil {
		return 0, fmt.Errorf("upload snapshot %s: %w", m.key, err)
	}
	metrics.SnapshotDocuments.Set(float64(len(f.Documents)))
	m.log.Infow("snapshot saved", "key", m.key, "documents", len(f.Documents))
	return len(f.Documents), nil
}

// Restore imports the snapshot into the source. A missing snapshot is not an
// error. Documents that fail to import are skipped and reported together in
// the returned error; the rest are still loaded.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	data, err := m.store.Get(ctx, m.key)
	if err != nil {
		if storage.IsNotFound(err) {
			m.log.Infow("no snapshot to restore", "key", m.key)
			return 0, nil
		}
		return 0, fmt.Errorf("download snapshot %s: %w", m.key, err)
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("decode snapshot %s: %w", m.key, err)
	}
	if f.Version != formatVersion {
		return 0, fmt.Errorf("snapshot %s: unsupported version %d", m.key, f.Version)
	}

	var result *multierror.Error
	restored := 0
	for _, e := range f.Documents {
		rec := repository.Record{
			Tenant: document.Tenant{Organization: e.Organization, Solution: e.Solution},
			Document: document.Document{
				Reference: document.Reference{ID: e.ID, Type: e.Type, Revision: e.Revision},
				Body:      e.Body,
			},
		}
		if err := m.src.Import(rec); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s %s: %w", rec.Tenant, rec.Document.Reference, err))
			continue
		}
		restored++
	}
	m.log.Infow("snapshot restored", "key", m.key, "documents", restored, "createdAt", f.CreatedAt)
	return restored, result.ErrorOrNil()
}

// Run saves a snapshot every interval until ctx is done. Failures are logged
// and retried on the next tick.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := m.Save(ctx); err != nil {
				m.log.Errorw("periodic snapshot failed", "error", err)
			}
		}
	}
}
