package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
)

// Схема ключей Redis:
//   - {ns}:obj:{key}        — HASH с полями объекта
//   - {ns}:status:{STATUS}  — ZSET ключей в статусе, score = момент перехода (ms)
//
// Пространство имён ns всегда в фигурных скобках (hash tag): Lua-скрипты
// трогают HASH и несколько ZSET, в Redis Cluster им нужен один слот.
const (
	redisObjPrefix    = "obj:"
	redisStatusPrefix = "status:"
)

// registerScript — регистрация PENDING-записи, отказ для загруженного объекта.
// KEYS: obj, status:PENDING. ARGV: key, content_type, submission_id, now, score.
var registerScript = redis.NewScript(`
local up = redis.call('HGET', KEYS[1], 'uploaded_at')
if up and up ~= '' then
  return 0
end
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1],
    'content_type', ARGV[2], 'size', '0', 'submission_id', ARGV[3],
    'uploaded_at', '', 'status', 'PENDING', 'scan_attempts', '0',
    'scan_started_at', '', 'scan_detail', '', 'status_changed_at', ARGV[4],
    'created_at', ARGV[4], 'updated_at', ARGV[4])
  redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
else
  redis.call('HSET', KEYS[1], 'content_type', ARGV[2], 'submission_id', ARGV[3], 'updated_at', ARGV[4])
end
return 1
`)

// markUploadedScript — фиксация загрузки.
// KEYS: obj. ARGV: now, size. Возвращает -1 (нет ключа), 0 (уже загружен), 1.
var markUploadedScript = redis.NewScript(`
local up = redis.call('HGET', KEYS[1], 'uploaded_at')
if not up then
  return -1
end
if up ~= '' then
  return 0
end
redis.call('HSET', KEYS[1], 'uploaded_at', ARGV[1], 'size', ARGV[2], 'updated_at', ARGV[1])
return 1
`)

// transitionScript — CAS статуса.
// KEYS: obj, status:from, status:to. ARGV: key, from, to, detail, now, score.
// Возвращает -1 (нет ключа), 0 (статус не from), 1.
var transitionScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then
  return -1
end
if st ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[3], 'scan_detail', ARGV[4],
  'status_changed_at', ARGV[5], 'updated_at', ARGV[5])
if ARGV[3] == 'SCANNING' then
  redis.call('HINCRBY', KEYS[1], 'scan_attempts', 1)
  redis.call('HSET', KEYS[1], 'scan_started_at', ARGV[5])
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[6], ARGV[1])
return 1
`)

// RedisObjectRepository — хранилище статусов в Redis.
// Атомарность переходов обеспечивается Lua-скриптами.
type RedisObjectRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisObjectRepository создаёт Redis-хранилище статусов.
// prefix — пространство имён ключей ("ub:" или "{ub}:"), без hash tag
// оборачивается в скобки.
func NewRedisObjectRepository(client redis.UniversalClient, prefix string) *RedisObjectRepository {
	return &RedisObjectRepository{client: client, prefix: hashTagPrefix(prefix)}
}

// hashTagPrefix приводит префикс к виду "{ns}:".
func hashTagPrefix(prefix string) string {
	if open := strings.IndexByte(prefix, '{'); open >= 0 {
		if end := strings.IndexByte(prefix[open:], '}'); end > 1 {
			return prefix
		}
	}
	ns := strings.TrimSuffix(prefix, ":")
	if ns == "" {
		ns = "ub"
	}
	return "{" + ns + "}:"
}

// NewRedisClient создаёт клиента по URL вида redis://[:password@]host:port/db.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора URL Redis: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (r *RedisObjectRepository) objKey(key string) string {
	return r.prefix + redisObjPrefix + key
}

func (r *RedisObjectRepository) statusKey(s model.ScanStatus) string {
	return r.prefix + redisStatusPrefix + string(s)
}

// Register регистрирует ключ в статусе PENDING.
func (r *RedisObjectRepository) Register(ctx context.Context, obj *model.Object) (*model.Object, error) {
	res, err := registerScript.Run(ctx, r.client,
		[]string{r.objKey(obj.Key), r.statusKey(model.ScanPending)},
		obj.Key, obj.ContentType, obj.SubmissionID, formatTime(obj.CreatedAt), score(obj.CreatedAt),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("ошибка регистрации объекта: %w", err)
	}
	if res == 0 {
		return nil, ErrAlreadyUploaded
	}
	return r.Get(ctx, obj.Key)
}

// Get возвращает объект по ключу или ErrNotFound.
func (r *RedisObjectRepository) Get(ctx context.Context, key string) (*model.Object, error) {
	fields, err := r.client.HGetAll(ctx, r.objKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения объекта: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeObject(key, fields)
}

// MarkUploaded фиксирует загрузку.
func (r *RedisObjectRepository) MarkUploaded(ctx context.Context, key string, size int64, at time.Time) (*model.Object, error) {
	res, err := markUploadedScript.Run(ctx, r.client, []string{r.objKey(key)}, formatTime(at), size).Int()
	if err != nil {
		return nil, fmt.Errorf("ошибка отметки загрузки: %w", err)
	}
	switch res {
	case -1:
		return nil, ErrNotFound
	case 0:
		return nil, ErrAlreadyUploaded
	}
	return r.Get(ctx, key)
}

// Transition — CAS статуса через Lua-скрипт.
func (r *RedisObjectRepository) Transition(
	ctx context.Context, key string, from, to model.ScanStatus, detail string, at time.Time,
) (*model.Object, error) {
	res, err := transitionScript.Run(ctx, r.client,
		[]string{r.objKey(key), r.statusKey(from), r.statusKey(to)},
		key, string(from), string(to), detail, formatTime(at), score(at),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("ошибка перехода статуса: %w", err)
	}
	switch res {
	case -1:
		return nil, ErrNotFound
	case 0:
		return nil, ErrConflict
	}
	return r.Get(ctx, key)
}

// List читает ZSET статуса постранично, пока не наберёт limit записей.
func (r *RedisObjectRepository) List(ctx context.Context, filter ListFilter) ([]*model.Object, error) {
	limit := filter.limit()
	maxScore := "+inf"
	if !filter.EnteredBefore.IsZero() {
		// Исключающая верхняя граница
		maxScore = "(" + strconv.FormatInt(filter.EnteredBefore.UnixMilli(), 10)
	}

	var result []*model.Object
	for offset := int64(0); len(result) < limit; offset += int64(limit) {
		keys, err := r.client.ZRangeByScore(ctx, r.statusKey(filter.Status), &redis.ZRangeBy{
			Min:    "-inf",
			Max:    maxScore,
			Offset: offset,
			Count:  int64(limit),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("ошибка выборки объектов: %w", err)
		}

		for _, key := range keys {
			o, err := r.Get(ctx, key)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			// ZSET мог отстать от HASH между вызовами
			if o.Status != filter.Status || (filter.UploadedOnly && !o.Uploaded()) || !filter.attemptsLeft(o) {
				continue
			}
			result = append(result, o)
			if len(result) == limit {
				break
			}
		}

		if len(keys) < limit {
			break
		}
	}
	return result, nil
}

// CheckReady проверяет доступность Redis через PING.
func (r *RedisObjectRepository) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return "fail", fmt.Sprintf("Redis недоступен: %v", err)
	}
	return "ok", "подключение активно"
}

// --- Кодирование ---

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// decodeObject собирает модель из полей HASH.
func decodeObject(key string, f map[string]string) (*model.Object, error) {
	o := &model.Object{
		Key:          key,
		ContentType:  f["content_type"],
		SubmissionID: f["submission_id"],
		Status:       model.ScanStatus(f["status"]),
		ScanDetail:   f["scan_detail"],
	}

	var err error
	if o.Size, err = strconv.ParseInt(f["size"], 10, 64); err != nil {
		return nil, fmt.Errorf("поле size объекта %s: %w", key, err)
	}
	if o.ScanAttempts, err = strconv.Atoi(f["scan_attempts"]); err != nil {
		return nil, fmt.Errorf("поле scan_attempts объекта %s: %w", key, err)
	}
	if o.UploadedAt, err = parseOptionalTime(f["uploaded_at"]); err != nil {
		return nil, fmt.Errorf("поле uploaded_at объекта %s: %w", key, err)
	}
	if o.ScanStartedAt, err = parseOptionalTime(f["scan_started_at"]); err != nil {
		return nil, fmt.Errorf("поле scan_started_at объекта %s: %w", key, err)
	}
	if o.StatusChangedAt, err = parseTime(f["status_changed_at"]); err != nil {
		return nil, fmt.Errorf("поле status_changed_at объекта %s: %w", key, err)
	}
	if o.CreatedAt, err = parseTime(f["created_at"]); err != nil {
		return nil, fmt.Errorf("поле created_at объекта %s: %w", key, err)
	}
	if o.UpdatedAt, err = parseTime(f["updated_at"]); err != nil {
		return nil, fmt.Errorf("поле updated_at объекта %s: %w", key, err)
	}
	return o, nil
}
