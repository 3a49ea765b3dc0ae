// Пакет presign — бэкенды выдачи presigned URL.
//
// local — объекты на диске, URL подписаны HS256-токеном и обслуживаются
// самим брокером (/objects/*). s3 — S3/R2-совместимое хранилище,
// подпись SigV4 через aws-sdk-go-v2.
package presign

import (
	"context"
	"errors"
	"time"
)

// TTL — время жизни любого presigned URL. Не настраивается.
const TTL = 15 * time.Minute

// ErrObjectNotFound — объекта нет в хранилище.
var ErrObjectNotFound = errors.New("объект не найден в хранилище")

// ObjectInfo — метаданные объекта в хранилище.
type ObjectInfo struct {
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Backend — выдача presigned URL и проверка существования объекта.
// Бэкенд сам байты не перемещает (кроме local, где PUT/GET обслуживает брокер).
type Backend interface {
	// Name — имя бэкенда для логов и метрик.
	Name() string
	// PresignPut возвращает URL для однократной загрузки объекта key с типом contentType.
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	// PresignGet возвращает URL для скачивания объекта key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Stat возвращает метаданные объекта или ErrObjectNotFound.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
}
