package service

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		prefix  string
		wantErr bool
	}{
		{"сценарный ключ", scenarioKey, "submissions/", false},
		{"без префикса", "a/b.pdf", "", false},
		{"пустой", "", "", true},
		{"ведущий слэш", "/submissions/a/b.pdf", "", true},
		{"двойной слэш", "submissions//b.pdf", "", true},
		{"точка-точка", "submissions/../etc/passwd", "", true},
		{"пробел", "submissions/a/my file.pdf", "", true},
		{"юникод", "submissions/a/отчёт.pdf", "", true},
		{"чужой префикс", "uploads/a/b.pdf", "submissions/", true},
		{"только префикс", "submissions/", "submissions/", true},
		{"слишком длинный", "submissions/" + strings.Repeat("a", MaxKeyLength), "", true},
		{"завершающий слэш", "submissions/a/", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key, tt.prefix)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKey) {
					t.Errorf("ValidateKey(%q) = %v, ожидалась ErrInvalidKey", tt.key, err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateKey(%q): %v", tt.key, err)
			}
		})
	}
}

func TestSubmissionIDFromKey(t *testing.T) {
	tests := map[string]string{
		scenarioKey:                 "11111111-1111-1111-1111-111111111111",
		"submissions/only-file.pdf": "",
		"other/abc/file.pdf":        "",
	}
	for key, want := range tests {
		if got := SubmissionIDFromKey(key, "submissions/"); got != want {
			t.Errorf("SubmissionIDFromKey(%q) = %q, ожидалось %q", key, got, want)
		}
	}
}
