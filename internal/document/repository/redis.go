package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aiqsync/datasync/internal/document"
	"github.com/redis/go-redis/v9"
)

// RedisRepo stores documents in Redis so several adapter instances can share
// one tenant tree. Each document is a hash under
// "<prefix>doc:<org>:<solution>:<id>" with fields type, rev and body; the ids
// of a tenant are kept in the set "<prefix>idx:<org>:<solution>". Redis drops
// a set once its last member is removed, which prunes empty scopes.
//
// Every write runs as a Lua script so the compare and the swap are atomic.
type RedisRepo struct {
	client *redis.Client
	prefix string
}

var (
	insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'type', ARGV[1], 'rev', ARGV[2], 'body', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
return 1
`)

	updateScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'type', 'rev')
if cur[1] ~= ARGV[1] or cur[2] ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'rev', ARGV[3], 'body', ARGV[4])
return 1
`)

	deleteScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'type', 'rev')
if cur[1] ~= ARGV[1] or cur[2] ~= ARGV[2] then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[3])
if redis.call('SCARD', KEYS[2]) == 0 then
  redis.call('DEL', KEYS[2])
end
return 1
`)
)

// NewRedisRepo creates a Redis-backed store. Prefix may be empty.
func NewRedisRepo(client *redis.Client, prefix string) *RedisRepo {
	if prefix == "" {
		prefix = "datasync:"
	}
	return &RedisRepo{client: client, prefix: prefix}
}

var _ Store = (*RedisRepo)(nil)

func (r *RedisRepo) docKey(t document.Tenant, id string) string {
	return r.prefix + "doc:" + t.Organization + ":" + t.Solution + ":" + id
}

func (r *RedisRepo) indexKey(t document.Tenant) string {
	return r.prefix + "idx:" + t.Organization + ":" + t.Solution
}

func (r *RedisRepo) List(ctx context.Context, t document.Tenant) ([]document.Reference, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	ids, err := r.client.SMembers(ctx, r.indexKey(t)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t, err)
	}
	out := make([]document.Reference, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, r.docKey(t, id), "type", "rev")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t, err)
	}
	for i, cmd := range cmds {
		vals := cmd.Val()
		docType, _ := vals[0].(string)
		rawRev, _ := vals[1].(string)
		if docType == "" || rawRev == "" {
			// deleted between SMEMBERS and HMGET
			continue
		}
		rev, err := strconv.ParseUint(rawRev, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("list %s: corrupt revision for %s: %w", t, ids[i], err)
		}
		out = append(out, document.Reference{ID: ids[i], Type: docType, Revision: rev})
	}
	return out, nil
}

func (r *RedisRepo) Retrieve(ctx context.Context, t document.Tenant, id string) (json.RawMessage, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	b, err := r.client.HGet(ctx, r.docKey(t, id), "body").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, document.ErrNotFound
		}
		return nil, fmt.Errorf("retrieve %s in %s: %w", id, t, err)
	}
	return json.RawMessage(b), nil
}

func (r *RedisRepo) Insert(ctx context.Context, t document.Tenant, ref document.Reference, body json.RawMessage) (uint64, error) {
	const initialRevision = 1
	if err := t.Validate(); err != nil {
		return 0, err
	}
	doc, err := newRevision(ref, initialRevision, body)
	if err != nil {
		return 0, err
	}
	ok, err := insertScript.Run(ctx, r.client,
		[]string{r.docKey(t, ref.ID), r.indexKey(t)},
		doc.Type, strconv.FormatUint(doc.Revision, 10), string(doc.Body), doc.ID,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("insert %s in %s: %w", ref.ID, t, err)
	}
	if ok == 0 {
		return 0, fmt.Errorf("insert %s in %s: %w", ref.ID, t, document.ErrConflict)
	}
	return initialRevision, nil
}

func (r *RedisRepo) Update(ctx context.Context, t document.Tenant, ref document.Reference, body json.RawMessage) (uint64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	updated := ref.Revision + 1
	doc, err := newRevision(ref, updated, body)
	if err != nil {
		return 0, err
	}
	ok, err := updateScript.Run(ctx, r.client,
		[]string{r.docKey(t, ref.ID)},
		ref.Type, strconv.FormatUint(ref.Revision, 10), strconv.FormatUint(updated, 10), string(doc.Body),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("update %s in %s: %w", ref, t, err)
	}
	if ok == 0 {
		return 0, fmt.Errorf("update %s in %s: %w", ref, t, document.ErrPreconditionFailed)
	}
	return updated, nil
}

func (r *RedisRepo) Delete(ctx context.Context, t document.Tenant, ref document.Reference) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := ref.Validate(); err != nil {
		return err
	}
	ok, err := deleteScript.Run(ctx, r.client,
		[]string{r.docKey(t, ref.ID), r.indexKey(t)},
		ref.Type, strconv.FormatUint(ref.Revision, 10), ref.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("delete %s in %s: %w", ref, t, err)
	}
	if ok == 0 {
		return fmt.Errorf("delete %s in %s: %w", ref, t, document.ErrPreconditionFailed)
	}
	return nil
}
