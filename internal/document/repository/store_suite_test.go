package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/aiqsync/datasync/internal/document"
	"github.com/stretchr/testify/require"
)

const (
	docID    = "docId"
	docType  = "docType"
	notThere = "foo"
)

var tenant = document.Tenant{Organization: "appear", Solution: "solution"}

// runStoreSuite exercises the Store contract against any implementation.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("Empty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		list, err := s.List(ctx, tenant)
		require.NoError(t, err)
		require.Empty(t, list)
		_, err = s.Retrieve(ctx, tenant, docID)
		require.ErrorIs(t, err, document.ErrNotFound)
	})

	t.Run("Insert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rev, err := s.Insert(ctx, tenant, document.Reference{ID: docID, Type: docType}, body(`{"data":"FOO"}`))
		require.NoError(t, err)
		require.Equal(t, uint64(1), rev)

		list, err := s.List(ctx, tenant)
		require.NoError(t, err)
		require.Equal(t, []document.Reference{{ID: docID, Type: docType, Revision: rev}}, list)

		got, err := s.Retrieve(ctx, tenant, docID)
		require.NoError(t, err)
		require.JSONEq(t, `{"data":"FOO","_rev":1}`, string(got))

		_, err = s.Retrieve(ctx, tenant, notThere)
		require.ErrorIs(t, err, document.ErrNotFound)
	})

	t.Run("InsertIgnoresSuppliedRevision", func(t *testing.T) {
		s := newStore(t)
		rev, err := s.Insert(context.Background(), tenant, document.Reference{ID: docID, Type: docType, Revision: 42}, body(`{}`))
		require.NoError(t, err)
		require.Equal(t, uint64(1), rev)
	})

	t.Run("InsertConflict", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ref := document.Reference{ID: docID, Type: docType}
		_, err := s.Insert(ctx, tenant, ref, body(`{"data":"FOO"}`))
		require.NoError(t, err)

		_, err = s.Insert(ctx, tenant, ref, body(`{"data":"BAR"}`))
		require.ErrorIs(t, err, document.ErrConflict)

		got, err := s.Retrieve(ctx, tenant, docID)
		require.NoError(t, err)
		require.JSONEq(t, `{"data":"FOO","_rev":1}`, string(got))
	})

	t.Run("InsertRejectsNonObjectBody", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Insert(ctx, tenant, document.Reference{ID: docID, Type: docType}, body(`[1,2]`))
		require.ErrorIs(t, err, document.ErrValidation)
		list, err := s.List(ctx, tenant)
		require.NoError(t, err)
		require.Empty(t, list)
	})

	t.Run("UpdateAndDeleteLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ref := document.Reference{ID: docID, Type: docType}

		rev, err := s.Insert(ctx, tenant, ref, body(`{"data":"FOO"}`))
		require.NoError(t, err)
		require.Equal(t, uint64(1), rev)

		rev, err = s.Update(ctx, tenant, ref.WithRevision(1), body(`{"data":"BAR"}`))
		require.NoError(t, err)
		require.Equal(t, uint64(2), rev)

		got, err := s.Retrieve(ctx, tenant, docID)
		require.NoError(t, err)
		require.JSONEq(t, `{"data":"BAR","_rev":2}`, string(got))

		_, err = s.Update(ctx, tenant, ref.WithRevision(1), body(`{"data":"BAZ"}`))
		require.ErrorIs(t, err, document.ErrPreconditionFailed)

		require.NoError(t, s.Delete(ctx, tenant, ref.WithRevision(2)))
		require.ErrorIs(t, s.Delete(ctx, tenant, ref.WithRevision(2)), document.ErrPreconditionFailed)

		_, err = s.Retrieve(ctx, tenant, docID)
		require.ErrorIs(t, err, document.ErrNotFound)
	})

	t.Run("SequentialUpdates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ref := document.Reference{ID: docID, Type: docType}
		r0, err := s.Insert(ctx, tenant, ref, body(`{}`))
		require.NoError(t, err)

		const n = 10
		cur := r0
		for i := 0; i < n; i++ {
			next, err := s.Update(ctx, tenant, ref.WithRevision(cur), body(`{}`))
			require.NoError(t, err)
			require.Equal(t, cur+1, next)
			cur = next
		}
		require.Equal(t, r0+n, cur)

		for stale := r0; stale < cur; stale++ {
			_, err := s.Update(ctx, tenant, ref.WithRevision(stale), body(`{}`))
			require.ErrorIs(t, err, document.ErrPreconditionFailed)
		}
		list, err := s.List(ctx, tenant)
		require.NoError(t, err)
		require.Equal(t, []document.Reference{ref.WithRevision(cur)}, list)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Update(ctx, tenant, document.Reference{ID: docID, Type: docType, Revision: 1}, body(`{}`))
		require.ErrorIs(t, err, document.ErrPreconditionFailed)

		_, err = s.Insert(ctx, tenant, document.Reference{ID: "other", Type: docType}, body(`{}`))
		require.NoError(t, err)
		_, err = s.Update(ctx, tenant, document.Reference{ID: docID, Type: docType, Revision: 1}, body(`{}`))
		require.ErrorIs(t, err, document.ErrPreconditionFailed)
	})

	t.Run("UpdateWrongType", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Insert(ctx, tenant, document.Reference{ID: docID, Type: docType}, body(`{}`))
		require.NoError(t, err)
		_, err = s.Update(ctx, tenant, document.Reference{ID: docID, Type: "otherType", Revision: 1}, body(`{}`))
		require.ErrorIs(t, err, document.ErrPreconditionFailed)
	})

	t.Run("DeleteWrongTypeIsRejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Insert(ctx, tenant, document.Reference{ID: docID, Type: docType}, body(`{}`))
		require.NoError(t, err)

		err = s.Delete(ctx, tenant, document.Reference{ID: docID, Type: "otherType", Revision: 1})
		require.ErrorIs(t, err, document.ErrPreconditionFailed)

		list, err := s.List(ctx, tenant)
		require.NoError(t, err)
		require.Len(t, list, 1)
	})

	t.Run("DeleteUnknownTenant", func(t *testing.T) {
		s := newStore(t)
		err := s.Delete(context.Background(), tenant, document.Reference{ID: docID, Type: docType, Revision: 1})
		require.ErrorIs(t, err, document.ErrPreconditionFailed)
	})

	t.Run("EmptyScopeCleanup", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ref := document.Reference{ID: docID, Type: docType}
		rev, err := s.Insert(ctx, tenant, ref, body(`{}`))
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, tenant, ref.WithRevision(rev)))

		list, err := s.List(ctx, tenant)
		require.NoError(t, err)
		require.NotNil(t, list)
		require.Empty(t, list)

		// the scope can be recreated after pruning
		rev, err = s.Insert(ctx, tenant, ref, body(`{}`))
		require.NoError(t, err)
		require.Equal(t, uint64(1), rev)
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := document.Tenant{Organization: "appear", Solution: "solution"}
		b := document.Tenant{Organization: "appear", Solution: "solvation"}
		c := document.Tenant{Organization: "other", Solution: "solution"}
		ref := document.Reference{ID: "d1", Type: docType}

		for _, tn := range []document.Tenant{a, b} {
			rev, err := s.Insert(ctx, tn, ref, body(`{}`))
			require.NoError(t, err)
			require.Equal(t, uint64(1), rev)
		}
		for _, tn := range []document.Tenant{a, b} {
			list, err := s.List(ctx, tn)
			require.NoError(t, err)
			require.Len(t, list, 1)
		}

		rev, err := s.Update(ctx, a, ref.WithRevision(1), body(`{"x":1}`))
		require.NoError(t, err)
		require.Equal(t, uint64(2), rev)

		list, err := s.List(ctx, b)
		require.NoError(t, err)
		require.Equal(t, []document.Reference{ref.WithRevision(1)}, list)

		list, err = s.List(ctx, c)
		require.NoError(t, err)
		require.Empty(t, list)
		_, err = s.Retrieve(ctx, c, "d1")
		require.ErrorIs(t, err, document.ErrNotFound)
	})

	t.Run("ConcurrentUpdateExactlyOneWins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ref := document.Reference{ID: docID, Type: docType}
		rev, err := s.Insert(ctx, tenant, ref, body(`{}`))
		require.NoError(t, err)

		const writers = 16
		results := make([]error, writers)
		revs := make([]uint64, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				revs[i], results[i] = s.Update(ctx, tenant, ref.WithRevision(rev), body(`{}`))
			}(i)
		}
		wg.Wait()

		wins := 0
		for i, err := range results {
			if err == nil {
				wins++
				require.Equal(t, rev+1, revs[i])
				continue
			}
			require.ErrorIs(t, err, document.ErrPreconditionFailed)
		}
		require.Equal(t, 1, wins)
	})

	t.Run("ConcurrentInsertExactlyOneWins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const writers = 16
		results := make([]error, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = s.Insert(ctx, tenant, document.Reference{ID: docID, Type: docType}, body(`{}`))
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range results {
			if err == nil {
				wins++
				continue
			}
			require.ErrorIs(t, err, document.ErrConflict)
		}
		require.Equal(t, 1, wins)
	})
}

func body(s string) json.RawMessage { return json.RawMessage(s) }
