package service

import (
	"fmt"
	"strings"
)

// MaxKeyLength — максимальная длина ключа объекта в байтах.
const MaxKeyLength = 1024

// ValidateKey проверяет ключ объекта: непустой, не длиннее MaxKeyLength,
// без ведущего '/', пустых сегментов и '..', только [A-Za-z0-9_.-/].
// Непустой prefix требует, чтобы ключ начинался с него и не совпадал с ним.
func ValidateKey(key, prefix string) error {
	if key == "" {
		return fmt.Errorf("%w: пустой ключ", ErrInvalidKey)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: длина %d превышает %d", ErrInvalidKey, len(key), MaxKeyLength)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: ведущий '/'", ErrInvalidKey)
	}
	for i := 0; i < len(key); i++ {
		if !isKeyChar(key[i]) {
			return fmt.Errorf("%w: недопустимый символ %q", ErrInvalidKey, key[i])
		}
	}
	for _, seg := range strings.Split(key, "/") {
		switch seg {
		case "":
			return fmt.Errorf("%w: пустой сегмент", ErrInvalidKey)
		case ".", "..":
			return fmt.Errorf("%w: сегмент %q", ErrInvalidKey, seg)
		}
	}
	if prefix != "" && (!strings.HasPrefix(key, prefix) || len(key) == len(prefix)) {
		return fmt.Errorf("%w: ключ должен начинаться с %q", ErrInvalidKey, prefix)
	}
	return nil
}

func isKeyChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '.', c == '-', c == '/':
		return true
	default:
		return false
	}
}

// SubmissionIDFromKey извлекает идентификатор submission из ключа
// {prefix}{submissionId}/{filename}. Пустая строка — ключ другой формы.
func SubmissionIDFromKey(key, prefix string) string {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return ""
	}
	id, _, found := strings.Cut(rest, "/")
	if !found {
		return ""
	}
	return id
}
