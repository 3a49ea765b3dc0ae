// Пакет scan — конечный автомат статусов антивирусной проверки объекта.
//
// Жизненный цикл:
//   - PENDING → SCANNING → CLEAN | INFECTED | ERROR
//   - ERROR → PENDING — повторная постановка в очередь, пока остаются попытки
//
// CLEAN и INFECTED — конечные статусы. Сам автомат не хранит состояние:
// текущий статус лежит в хранилище статусов, переход применяется через CAS.
package scan

import (
	"fmt"

	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
)

// Коды ошибок перехода.
const (
	CodeInvalidStatus     = "INVALID_STATUS"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeAttemptsExhausted = "ATTEMPTS_EXHAUSTED"
)

// validTransitions — матрица допустимых переходов.
var validTransitions = map[model.ScanStatus]map[model.ScanStatus]bool{
	model.ScanPending:  {model.ScanScanning: true},
	model.ScanScanning: {model.ScanClean: true, model.ScanInfected: true, model.ScanError: true},
	model.ScanError:    {model.ScanPending: true},
	model.ScanClean:    {},
	model.ScanInfected: {},
}

// Access — решение о выдаче GET presign для объекта.
type Access int

const (
	// AccessAllow — объект чист, можно выдать URL (200)
	AccessAllow Access = iota
	// AccessPending — проверка не завершена, клиенту повторить позже (202)
	AccessPending
	// AccessRejected — объект заражён, URL не выдаётся (403)
	AccessRejected
	// AccessFailed — проверка окончательно провалилась (500)
	AccessFailed
)

// String возвращает имя решения для логов и метрик.
func (a Access) String() string {
	switch a {
	case AccessAllow:
		return "allow"
	case AccessPending:
		return "pending"
	case AccessRejected:
		return "rejected"
	case AccessFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CanTransition проверяет, допустим ли переход from → to по матрице.
func CanTransition(from, to model.ScanStatus) bool {
	transitions, ok := validTransitions[from]
	if !ok {
		return false
	}
	return transitions[to]
}

// Validate проверяет переход с учётом лимита попыток сканирования.
// attempts — сколько раз объект уже брали в работу, maxAttempts — лимит (0 — без лимита).
func Validate(from, to model.ScanStatus, attempts, maxAttempts int) error {
	if !to.Valid() {
		return &TransitionError{
			Code:    CodeInvalidStatus,
			Message: fmt.Sprintf("недопустимый статус: %q", to),
		}
	}

	if !CanTransition(from, to) {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}

	// Повторная постановка в очередь только пока остались попытки
	if from == model.ScanError && to == model.ScanPending && Exhausted(attempts, maxAttempts) {
		return &TransitionError{
			Code:    CodeAttemptsExhausted,
			Message: fmt.Sprintf("исчерпаны попытки сканирования: %d из %d", attempts, maxAttempts),
		}
	}

	return nil
}

// Exhausted возвращает true, если попытки сканирования исчерпаны.
func Exhausted(attempts, maxAttempts int) bool {
	return maxAttempts > 0 && attempts >= maxAttempts
}

// Decide определяет решение о выдаче GET presign по статусу объекта.
// Только CLEAN разрешает доступ; ERROR остаётся «в процессе», пока есть попытки.
func Decide(status model.ScanStatus, attempts, maxAttempts int) Access {
	switch status {
	case model.ScanClean:
		return AccessAllow
	case model.ScanInfected:
		return AccessRejected
	case model.ScanError:
		if Exhausted(attempts, maxAttempts) {
			return AccessFailed
		}
		return AccessPending
	default:
		return AccessPending
	}
}

// ParseStatus преобразует строку в ScanStatus.
func ParseStatus(s string) (model.ScanStatus, error) {
	st := model.ScanStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("недопустимый статус: %q, допустимые: PENDING, SCANNING, CLEAN, INFECTED, ERROR", s)
	}
	return st, nil
}

// Terminal возвращает true для статусов, из которых нет переходов.
func Terminal(s model.ScanStatus) bool {
	return len(validTransitions[s]) == 0
}
