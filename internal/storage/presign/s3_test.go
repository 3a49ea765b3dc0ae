package presign

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestS3 создаёт S3-бэкенд со статическими ключами против endpoint.
func newTestS3(t *testing.T, endpoint string) *S3Backend {
	t.Helper()
	b, err := NewS3Backend(context.Background(), S3Config{
		Bucket:          "uploads",
		Region:          "auto",
		Endpoint:        endpoint,
		AccessKeyID:     "test-id",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewS3Backend: %v", err)
	}
	return b
}

// TestS3_PresignOffline проверяет подпись без сетевых вызовов.
func TestS3_PresignOffline(t *testing.T) {
	b := newTestS3(t, "https://acc.r2.cloudflarestorage.com")
	ctx := context.Background()

	putURL, err := b.PresignPut(ctx, testKey, "application/pdf", TTL)
	if err != nil {
		t.Fatalf("PresignPut: %v", err)
	}
	for _, want := range []string{"/uploads/" + testKey, "X-Amz-Expires=900", "X-Amz-Signature="} {
		if !strings.Contains(putURL, want) {
			t.Errorf("PUT URL %q не содержит %q", putURL, want)
		}
	}
	if !strings.Contains(strings.ToLower(putURL), "content-type") {
		t.Errorf("Content-Type не входит в подписанные заголовки: %q", putURL)
	}

	getURL, err := b.PresignGet(ctx, testKey, TTL)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if !strings.Contains(getURL, testKey) || !strings.Contains(getURL, "X-Amz-Expires=900") {
		t.Errorf("GET URL = %q", getURL)
	}
}

func TestS3_Stat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/report.pdf") {
			w.Header().Set("Content-Type", "application/pdf")
			w.Header().Set("Content-Length", "1234")
			w.Header().Set("Last-Modified", "Wed, 01 Jan 2026 12:00:00 GMT")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	b := newTestS3(t, srv.URL)
	ctx := context.Background()

	info, err := b.Stat(ctx, testKey)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != 1234 || info.ContentType != "application/pdf" {
		t.Errorf("info = %+v", info)
	}

	_, err = b.Stat(ctx, "submissions/none/missing.pdf")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Stat отсутствующего: %v, ожидалась ErrObjectNotFound", err)
	}
}
