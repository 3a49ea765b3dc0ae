package coordinator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"мой отчёт (финал).pdf", "file.pdf"},
		{"my report v2.docx", "myreportv2.docx"},
		{"../../etc/passwd", "file....etcpasswd"},
		{"a_b-c.txt", "a_b-c.txt"},
		{"", fallbackFilename},
		{"..", fallbackFilename},
		{"отчёт", fallbackFilename},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, ожидалось %q", tt.in, got, tt.want)
		}
	}
}

func TestUniqueFilenames(t *testing.T) {
	got := UniqueFilenames([]string{"отчёт.pdf", "эссе.pdf", "report.pdf", "report.pdf", "report-2.pdf", "notes"})
	want := []string{"file.pdf", "file-2.pdf", "report.pdf", "report-2.pdf", "report-2-2.pdf", "notes"}
	if len(got) != len(want) {
		t.Fatalf("UniqueFilenames = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("имя %d = %q, ожидалось %q", i, got[i], want[i])
		}
	}
}

func TestObjectKey(t *testing.T) {
	got := ObjectKey(DefaultKeyPrefix, "11111111-1111-1111-1111-111111111111", "report.pdf")
	if got != "submissions/11111111-1111-1111-1111-111111111111/report.pdf" {
		t.Errorf("ObjectKey = %q", got)
	}
}

func TestNewSubmissionID(t *testing.T) {
	id := NewSubmissionID()
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("ожидался UUID, получено %q", id)
	}

	failing := func() (uuid.UUID, error) { return uuid.Nil, errors.New("нет энтропии") }
	now := func() time.Time { return time.UnixMilli(1700000000000) }
	a := newSubmissionID(failing, now)
	b := newSubmissionID(failing, now)
	if !strings.HasPrefix(a, "loyw3v28-") {
		t.Errorf("fallback-идентификатор без timestamp: %q", a)
	}
	if a == b {
		t.Errorf("fallback-идентификаторы совпали: %q", a)
	}
	if SanitizeFilename(a) != a {
		t.Errorf("fallback-идентификатор содержит недопустимые символы: %q", a)
	}
}
