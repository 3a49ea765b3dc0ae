// Пакет model — доменные модели Upload Broker.
// Object — загруженный объект в хранилище и его статус антивирусной проверки.
package model

import "time"

// ScanStatus — статус антивирусной проверки объекта.
type ScanStatus string

const (
	// ScanPending — объект зарегистрирован (presign PUT), сканер ещё не взял его в работу
	ScanPending ScanStatus = "PENDING"
	// ScanScanning — сканер взял объект в работу
	ScanScanning ScanStatus = "SCANNING"
	// ScanClean — объект проверен, угроз нет
	ScanClean ScanStatus = "CLEAN"
	// ScanInfected — обнаружена угроза, объект недоступен для скачивания
	ScanInfected ScanStatus = "INFECTED"
	// ScanError — ошибка сканирования (возможен повтор)
	ScanError ScanStatus = "ERROR"
)

// Valid проверяет, является ли значение допустимым статусом.
func (s ScanStatus) Valid() bool {
	switch s {
	case ScanPending, ScanScanning, ScanClean, ScanInfected, ScanError:
		return true
	default:
		return false
	}
}

// Object — запись об объекте хранилища, идентифицируемом ключом.
type Object struct {
	// Key — ключ объекта в хранилище (submissions/{id}/{filename})
	Key string
	// ContentType — MIME-тип, заявленный при presign PUT
	ContentType string
	// Size — размер в байтах (известен после загрузки)
	Size int64
	// SubmissionID — идентификатор submission-владельца (префикс ключа)
	SubmissionID string
	// UploadedAt — время фактической загрузки; nil — объект ещё не загружен
	UploadedAt *time.Time
	// Status — статус антивирусной проверки
	Status ScanStatus
	// ScanAttempts — сколько раз сканер брал объект в работу
	ScanAttempts int
	// ScanStartedAt — начало текущего сканирования (для SCANNING)
	ScanStartedAt *time.Time
	// ScanDetail — вердикт сканера (например, имя сигнатуры)
	ScanDetail string
	// StatusChangedAt — момент перехода в текущий статус
	StatusChangedAt time.Time
	// CreatedAt — время регистрации объекта
	CreatedAt time.Time
	// UpdatedAt — время последнего изменения записи
	UpdatedAt time.Time
}

// Uploaded возвращает true, если байты объекта уже записаны в хранилище.
func (o *Object) Uploaded() bool {
	return o.UploadedAt != nil
}

// Clone возвращает независимую копию записи.
func (o *Object) Clone() *Object {
	c := *o
	if o.UploadedAt != nil {
		t := *o.UploadedAt
		c.UploadedAt = &t
	}
	if o.ScanStartedAt != nil {
		t := *o.ScanStartedAt
		c.ScanStartedAt = &t
	}
	return &c
}
