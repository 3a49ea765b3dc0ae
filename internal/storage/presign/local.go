package presign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/goartstore/upload-broker/internal/storage/filestore"
)

// Операции, на которые выписывается токен.
const (
	OpPut = "PUT"
	OpGet = "GET"
)

const (
	tokenIssuer = "upload-broker"
	// usedTokensSize — ёмкость реестра использованных PUT-токенов
	usedTokensSize = 100_000
	// tokenLeeway — допуск расхождения часов при проверке exp
	tokenLeeway = 5 * time.Second
)

// Ошибки local-бэкенда.
var (
	// ErrTokenInvalid — подпись, срок действия, операция или ключ не совпадают.
	ErrTokenInvalid = errors.New("недействительный токен URL")
	// ErrTokenUsed — PUT-токен уже использован.
	ErrTokenUsed = errors.New("токен URL уже использован")
	// ErrContentTypeMismatch — Content-Type запроса не совпадает с подписанным.
	ErrContentTypeMismatch = errors.New("тип содержимого не совпадает с подписанным")
)

// URLClaims — claims токена presigned URL.
type URLClaims struct {
	jwt.RegisteredClaims
	// Op — разрешённая операция (PUT или GET)
	Op string `json:"op"`
	// ContentType — подписанный тип для PUT
	ContentType string `json:"ct,omitempty"`
}

// LocalBackend — объекты на диске, URL обслуживаются брокером.
type LocalBackend struct {
	store   *filestore.FileStore
	baseURL string
	secret  []byte
	now     func() time.Time
	logger  *slog.Logger

	// usedMu сериализует резервирование jti
	usedMu sync.Mutex
	used   *expirable.LRU[string, struct{}]
}

// NewLocalBackend создаёт local-бэкенд.
// baseURL — внешний адрес брокера, secret — ключ HS256 (>= 32 байт).
func NewLocalBackend(store *filestore.FileStore, baseURL string, secret []byte, logger *slog.Logger) *LocalBackend {
	return &LocalBackend{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "local_backend")),
		used:    expirable.NewLRU[string, struct{}](usedTokensSize, nil, TTL+tokenLeeway),
	}
}

// Name возвращает имя бэкенда.
func (b *LocalBackend) Name() string { return "local" }

// PresignPut выписывает однократный PUT-токен.
func (b *LocalBackend) PresignPut(_ context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return b.sign(key, OpPut, contentType, ttl)
}

// PresignGet выписывает GET-токен.
func (b *LocalBackend) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return b.sign(key, OpGet, "", ttl)
}

// Stat возвращает метаданные объекта на диске.
func (b *LocalBackend) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	info, err := b.store.Stat(key)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) || errors.Is(err, filestore.ErrInvalidKey) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	return &ObjectInfo{Size: info.Size, LastModified: info.ModTime}, nil
}

// sign формирует URL {base}/objects/{key}?token=...
func (b *LocalBackend) sign(key, op, contentType string, ttl time.Duration) (string, error) {
	now := b.now()
	claims := URLClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   key,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Op:          op,
		ContentType: contentType,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return "", fmt.Errorf("подпись токена URL: %w", err)
	}

	return fmt.Sprintf("%s/objects/%s?token=%s", b.baseURL, escapeKey(key), url.QueryEscape(token)), nil
}

// escapeKey экранирует сегменты ключа, сохраняя разделители.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// Verify проверяет токен для операции op над ключом key.
func (b *LocalBackend) Verify(token, key, op string) (*URLClaims, error) {
	claims := &URLClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return b.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithTimeFunc(b.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Op != op || claims.Subject != key || claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Put принимает тело объекта по PUT-токену.
// Токен однократный: jti резервируется до записи и освобождается,
// если запись не удалась по причине, не связанной с самим объектом.
func (b *LocalBackend) Put(token, key, contentType string, body io.Reader) (*filestore.SaveResult, error) {
	claims, err := b.Verify(token, key, OpPut)
	if err != nil {
		return nil, err
	}
	if !sameMediaType(claims.ContentType, contentType) {
		return nil, ErrContentTypeMismatch
	}

	b.usedMu.Lock()
	if b.used.Contains(claims.ID) {
		b.usedMu.Unlock()
		return nil, ErrTokenUsed
	}
	b.used.Add(claims.ID, struct{}{})
	b.usedMu.Unlock()

	res, err := b.store.Save(key, body)
	if err != nil {
		if !errors.Is(err, filestore.ErrExists) {
			b.used.Remove(claims.ID)
		}
		return nil, err
	}

	b.logger.Info("Объект загружен",
		slog.String("key", key),
		slog.Int64("size", res.Size),
		slog.String("checksum", res.Checksum),
	)
	return res, nil
}

// Open открывает объект по GET-токену. Вызывающий код обязан закрыть файл.
func (b *LocalBackend) Open(token, key string) (*os.File, error) {
	if _, err := b.Verify(token, key, OpGet); err != nil {
		return nil, err
	}
	return b.store.Open(key)
}

// sameMediaType сравнивает media type без учёта регистра и параметров.
func sameMediaType(signed, actual string) bool {
	s, _, err := mime.ParseMediaType(signed)
	if err != nil {
		return false
	}
	a, _, err := mime.ParseMediaType(actual)
	if err != nil {
		return false
	}
	return s == a
}
