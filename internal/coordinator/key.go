package coordinator

import (
	"fmt"
	"math/rand/v2"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// fallbackFilename — имя, если после очистки ничего не осталось.
const fallbackFilename = "file"

// SanitizeFilename удаляет из имени файла всё, кроме [A-Za-z0-9_.-].
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	s := b.String()
	if strings.Trim(s, ".") == "" {
		return fallbackFilename
	}
	// Имя без основы (".pdf" от кириллического "отчёт.pdf")
	if strings.HasPrefix(s, ".") {
		return fallbackFilename + s
	}
	return s
}

// UniqueFilenames очищает имена файлов одного submission и разводит
// совпадения суффиксом перед расширением: report.pdf, report-2.pdf, ...
func UniqueFilenames(names []string) []string {
	result := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, name := range names {
		s := SanitizeFilename(name)
		if used[s] {
			ext := path.Ext(s)
			stem := strings.TrimSuffix(s, ext)
			for n := 2; ; n++ {
				candidate := stem + "-" + strconv.Itoa(n) + ext
				if !used[candidate] {
					s = candidate
					break
				}
			}
		}
		used[s] = true
		result[i] = s
	}
	return result
}

// ObjectKey строит ключ объекта {prefix}{submissionID}/{имя}.
func ObjectKey(prefix, submissionID, filename string) string {
	return prefix + submissionID + "/" + SanitizeFilename(filename)
}

// NewSubmissionID генерирует идентификатор submission.
// Если случайный UUID недоступен, используется timestamp и псевдослучайный суффикс.
func NewSubmissionID() string {
	return newSubmissionID(uuid.NewRandom, time.Now)
}

func newSubmissionID(gen func() (uuid.UUID, error), now func() time.Time) string {
	id, err := gen()
	if err == nil {
		return id.String()
	}
	return fmt.Sprintf("%s-%s",
		strconv.FormatInt(now().UnixMilli(), 36),
		strconv.FormatUint(rand.Uint64(), 36),
	)
}
