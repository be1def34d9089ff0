package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pdf-intake/backend/internal/models"
)

// RedisConfig configures the index-oriented backend.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

// RedisStore implements Store on Redis. Each record is a hash; secondary
// indexes are a fingerprint key, one set per filename and a creation-ordered
// sorted set. Writes run as Lua scripts so each transition is atomic; every
// key a script touches is passed in KEYS.
//
//	<prefix>doc:<id>            hash
//	<prefix>fingerprint:<fp>    string -> id
//	<prefix>filename:<name>     set of ids
//	<prefix>docs                zset id scored by created_at (ms)
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
}

var putInitialScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
if ARGV[2] ~= '' then
	if redis.call('SETNX', KEYS[2], ARGV[1]) == 0 then return 0 end
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'status', ARGV[3], 'fingerprint', ARGV[2],
	'payload', '{}', 'created_at', ARGV[4], 'updated_at', ARGV[4])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return 1
`)

// KEYS: doc hash, old filename set, new filename set
// ARGV: id, payload, filename, now, expected old filename
var markCompleteScript = goredis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return 'missing' end
if st ~= 'processing' and st ~= 'complete' then return st end
local old = redis.call('HGET', KEYS[1], 'filename') or ''
if old ~= ARGV[5] then return 'stale' end
if old ~= '' then redis.call('SREM', KEYS[2], ARGV[1]) end
redis.call('HSET', KEYS[1], 'status', 'complete', 'payload', ARGV[2], 'filename', ARGV[3], 'updated_at', ARGV[4])
if ARGV[3] ~= '' then redis.call('SADD', KEYS[3], ARGV[1]) end
return 'ok'
`)

// markCompleteAttempts bounds retries when the stored filename changes
// between the read and the script.
const markCompleteAttempts = 3

// KEYS[1] doc hash; ARGV: reason, now
var markFailedScript = goredis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return 'missing' end
if st ~= 'processing' and st ~= 'failed' then return st end
redis.call('HSET', KEYS[1], 'status', 'failed', 'error', ARGV[1], 'updated_at', ARGV[2])
return 'ok'
`)

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "pdfintake:"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{rdb: rdb, prefix: cfg.Prefix}, nil
}

func (s *RedisStore) docKey(id string) string         { return s.prefix + "doc:" + id }
func (s *RedisStore) fingerprintKey(fp string) string { return s.prefix + "fingerprint:" + fp }
func (s *RedisStore) filenameKey(name string) string  { return s.prefix + "filename:" + name }
func (s *RedisStore) indexKey() string                { return s.prefix + "docs" }

func (s *RedisStore) PutInitial(ctx context.Context, id, fingerprint string) error {
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	created, err := putInitialScript.Run(ctx, s.rdb,
		[]string{s.docKey(id), s.fingerprintKey(fingerprint), s.indexKey()},
		id, fingerprint, string(models.StatusProcessing), now).Int()
	if err != nil {
		return unavailable("put initial", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	return nil
}

func (s *RedisStore) MarkComplete(ctx context.Context, id string, payload models.Payload) error {
	raw, err := json.Marshal(payload.Clone())
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	filename := payload.Filename()

	for attempt := 0; attempt < markCompleteAttempts; attempt++ {
		old, err := s.rdb.HGet(ctx, s.docKey(id), "filename").Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return unavailable("mark complete", err)
		}

		now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
		keys := []string{s.docKey(id), s.filenameKey(old), s.filenameKey(filename)}
		res, err := markCompleteScript.Run(ctx, s.rdb, keys, id, string(raw), filename, now, old).Text()
		if err != nil {
			return unavailable("mark complete", err)
		}
		if res != "stale" {
			return transitionResult(res, id, models.StatusComplete)
		}
	}
	return unavailable("mark complete", fmt.Errorf("filename of %s kept changing", id))
}

func (s *RedisStore) MarkFailed(ctx context.Context, id string, reason string) error {
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	res, err := markFailedScript.Run(ctx, s.rdb, []string{s.docKey(id)}, reason, now).Text()
	if err != nil {
		return unavailable("mark failed", err)
	}
	return transitionResult(res, id, models.StatusFailed)
}

func transitionResult(res, id string, to models.Status) error {
	switch res {
	case "ok":
		return nil
	case "missing":
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, res, to)
	}
}

func (s *RedisStore) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.fingerprintKey(fingerprint)).Result()
	if err != nil {
		return false, unavailable("exists by fingerprint", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Document, error) {
	fields, err := s.rdb.HGetAll(ctx, s.docKey(id)).Result()
	if err != nil {
		return nil, unavailable("get", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc, err := decodeHash(fields)
	if err != nil {
		return nil, unavailable("get", err)
	}
	return doc, nil
}

func (s *RedisStore) ListStatuses(ctx context.Context, limit int) ([]models.StatusEntry, error) {
	ids, err := s.rdb.ZRange(ctx, s.indexKey(), 0, int64(clampLimit(limit))-1).Result()
	if err != nil {
		return nil, unavailable("list statuses", err)
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*goredis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, s.docKey(id), "status")
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
			return nil, unavailable("list statuses", err)
		}
	}

	out := make([]models.StatusEntry, 0, len(ids))
	for i, id := range ids {
		status, err := cmds[i].Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, unavailable("list statuses", err)
		}
		out = append(out, models.StatusEntry{ID: id, Status: models.Status(status)})
	}
	return out, nil
}

func (s *RedisStore) FindByField(ctx context.Context, field, value string) ([]*models.Document, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	ids, err := s.rdb.SMembers(ctx, s.filenameKey(value)).Result()
	if err != nil {
		return nil, unavailable("find by field", err)
	}
	docs, err := s.fetch(ctx, ids)
	if err != nil {
		return nil, unavailable("find by field", err)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	if len(docs) > MaxListDocuments {
		docs = docs[:MaxListDocuments]
	}
	return docs, nil
}

func (s *RedisStore) ListDocuments(ctx context.Context, limit int) ([]*models.Document, error) {
	ids, err := s.rdb.ZRange(ctx, s.indexKey(), 0, int64(clampLimit(limit))-1).Result()
	if err != nil {
		return nil, unavailable("list documents", err)
	}
	docs, err := s.fetch(ctx, ids)
	if err != nil {
		return nil, unavailable("list documents", err)
	}
	return docs, nil
}

// fetch loads the hashes for ids in one pipeline, keeping the order of ids.
func (s *RedisStore) fetch(ctx context.Context, ids []string) ([]*models.Document, error) {
	out := make([]*models.Document, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.docKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		doc, err := decodeHash(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func decodeHash(fields map[string]string) (*models.Document, error) {
	doc := &models.Document{
		ID:          fields["id"],
		Status:      models.Status(fields["status"]),
		Fingerprint: fields["fingerprint"],
		Error:       fields["error"],
		Payload:     models.Payload{},
	}
	if raw := fields["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload of %s: %w", doc.ID, err)
		}
	}
	if ms, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		doc.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		doc.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return doc, nil
}
