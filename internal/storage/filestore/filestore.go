// Пакет filestore — объекты local-бэкенда на диске.
// Ключ объекта отображается во вложенный путь внутри dataDir.
// Запись: temp файл → запись + SHA-256 → fsync → link без перезаписи.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ошибки файлового хранилища.
var (
	// ErrNotFound — объекта нет на диске.
	ErrNotFound = errors.New("объект не найден")
	// ErrExists — объект с таким ключом уже записан.
	ErrExists = errors.New("объект уже существует")
	// ErrTooLarge — объём данных превышает лимит.
	ErrTooLarge = errors.New("объект превышает допустимый размер")
	// ErrInvalidKey — ключ выходит за пределы dataDir.
	ErrInvalidKey = errors.New("недопустимый ключ объекта")
)

// FileStore — управление объектами на диске.
type FileStore struct {
	dataDir string
	// maxSize — лимит размера объекта (0 — без лимита)
	maxSize int64
}

// SaveResult — результат сохранения объекта на диск.
type SaveResult struct {
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// Info — метаданные объекта на диске.
type Info struct {
	Size    int64
	ModTime time.Time
}

// New создаёт FileStore, создавая dataDir при необходимости.
func New(dataDir string, maxSize int64) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить абсолютный путь %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: abs, maxSize: maxSize}, nil
}

// path возвращает абсолютный путь объекта, проверяя, что он внутри dataDir.
func (fs *FileStore) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	full := filepath.Join(fs.dataDir, filepath.FromSlash(key))
	if !strings.HasPrefix(full, fs.dataDir+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return full, nil
}

// Save записывает данные из reader под ключом key.
// Существующий объект не перезаписывается (ErrExists).
// При ошибке temp файл удаляется.
func (fs *FileStore) Save(key string, reader io.Reader) (*SaveResult, error) {
	fullPath, err := fs.path(key)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(fullPath); err == nil {
		return nil, ErrExists
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории объекта: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%s.tmp", fullPath, uuid.NewString()[:8])
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	defer os.Remove(tmpPath)

	src := reader
	if fs.maxSize > 0 {
		// +1 байт, чтобы отличить «ровно лимит» от превышения
		src = io.LimitReader(reader, fs.maxSize+1)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(src, hasher))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if fs.maxSize > 0 && size > fs.maxSize {
		f.Close()
		return nil, ErrTooLarge
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// link атомарно публикует файл и отказывает, если путь уже занят
	if err := os.Link(tmpPath, fullPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("ошибка публикации файла: %w", err)
	}

	return &SaveResult{
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает объект для чтения. Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(key string) (*os.File, error) {
	fullPath, err := fs.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка открытия объекта %s: %w", key, err)
	}
	return f, nil
}

// Stat возвращает метаданные объекта или ErrNotFound.
func (fs *FileStore) Stat(key string) (*Info, error) {
	fullPath, err := fs.path(key)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения информации об объекте %s: %w", key, err)
	}
	if fi.IsDir() {
		return nil, ErrNotFound
	}
	return &Info{Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Delete удаляет объект. Отсутствующий объект не считается ошибкой.
func (fs *FileStore) Delete(key string) error {
	fullPath, err := fs.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления объекта %s: %w", key, err)
	}
	return nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}
