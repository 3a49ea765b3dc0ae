// Пакет service — бизнес-логика Upload Broker: presign, scan gate,
// фоновый reaper зависших сканирований и сага submission.
package service

import "errors"

// Ошибки сервисного слоя. Обработчики отображают их в HTTP-ответы.
var (
	// ErrNotFound — ключ не зарегистрирован или объект ни разу не загружен.
	ErrNotFound = errors.New("объект не найден")
	// ErrScanPending — проверка не завершена (202, клиенту повторить позже).
	ErrScanPending = errors.New("scan in progress")
	// ErrScanRejected — объект заражён (403, повтор бессмыслен).
	ErrScanRejected = errors.New("объект отклонён антивирусом")
	// ErrScanFailed — проверка провалилась, попытки исчерпаны (500).
	ErrScanFailed = errors.New("scan failed")
	// ErrObjectExists — объект уже загружен и неизменяем (409).
	ErrObjectExists = errors.New("объект уже загружен")
	// ErrInvalidKey — ключ не проходит политику ключей (400).
	ErrInvalidKey = errors.New("недопустимый ключ объекта")
	// ErrInvalidContentType — некорректный или запрещённый MIME-тип (400).
	ErrInvalidContentType = errors.New("недопустимый тип содержимого")
	// ErrInvalidTransition — переход статуса запрещён автоматом (409).
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
	// ErrConflict — CAS не прошёл: статус изменён конкурентно (409).
	ErrConflict = errors.New("статус объекта изменён конкурентно")
	// ErrNotUploaded — сканер запросил объект, байты которого ещё не записаны (409).
	ErrNotUploaded = errors.New("объект ещё не загружен")
	// ErrInvalidRequest — некорректные данные submission (400).
	ErrInvalidRequest = errors.New("некорректный запрос")
	// ErrNotifyFailed — канал уведомлений вернул ошибку (502).
	ErrNotifyFailed = errors.New("уведомление не доставлено")
	// ErrNotifyRequired — receipt до успешного notify (409).
	ErrNotifyRequired = errors.New("receipt требует успешного notify")
)
