package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/upload-broker/internal/api/errors"
	"github.com/bigkaa/goartstore/upload-broker/internal/api/middleware"
	"github.com/bigkaa/goartstore/upload-broker/internal/api/openapi"
	"github.com/bigkaa/goartstore/upload-broker/internal/api/types"
	"github.com/bigkaa/goartstore/upload-broker/internal/notify"
	"github.com/bigkaa/goartstore/upload-broker/internal/queue"
	"github.com/bigkaa/goartstore/upload-broker/internal/repository"
	"github.com/bigkaa/goartstore/upload-broker/internal/service"
	"github.com/bigkaa/goartstore/upload-broker/internal/storage/filestore"
	"github.com/bigkaa/goartstore/upload-broker/internal/storage/presign"
)

const (
	scenarioKey = "submissions/11111111-1111-1111-1111-111111111111/report.pdf"
	testKeyID   = "test-key"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// switchNotifier — уведомления с переключаемой ошибкой.
type switchNotifier struct {
	mu  sync.Mutex
	err error
}

func (n *switchNotifier) Send(context.Context, notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

func (n *switchNotifier) setErr(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

// apiFixture — полный роутер на in-memory хранилищах и local-бэкенде.
type apiFixture struct {
	srv      *httptest.Server
	notifier *switchNotifier
}

func newAPIFixture(t *testing.T, auth *middleware.JWTAuth) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	store, err := filestore.New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	local := presign.NewLocalBackend(store, srv.URL, testSecret, logger)

	objRepo := repository.NewMemoryObjectRepository()
	gate := service.NewScanGate(objRepo, local, queue.NewLogPublisher(logger),
		service.NewVerdictCache(100, time.Minute), "submissions/", 3, logger)
	notifier := &switchNotifier{}
	subs := service.NewSubmissionService(repository.NewMemorySubmissionRepository(), notifier, logger)

	api := NewAPIHandler(
		NewHealthHandler(map[string]ReadinessChecker{"status_store": objRepo}),
		NewPresignHandler(service.NewPresignService(local, gate, "submissions/", nil, logger), logger),
		NewScanHandler(gate, logger),
		NewSubmissionsHandler(subs, logger),
		NewObjectsHandler(local, gate, logger),
		auth,
		logger,
	)

	doc, err := openapi.Load(context.Background())
	if err != nil {
		t.Fatalf("openapi.Load: %v", err)
	}
	validator, err := middleware.RequestValidator(doc, logger)
	if err != nil {
		t.Fatal(err)
	}

	router := chi.NewRouter()
	router.Use(validator)
	api.RegisterRoutes(router)
	handler = router

	return &apiFixture{srv: srv, notifier: notifier}
}

// do выполняет запрос и декодирует JSON-ответ в out (если не nil).
func (f *apiFixture) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rdr = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, f.srv.URL+path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

// putBytes выполняет PUT по presigned URL.
func putBytes(t *testing.T, url, contentType string, data []byte) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", contentType)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

// upload выписывает PUT URL и загружает data.
func (f *apiFixture) upload(t *testing.T, key string, data []byte) {
	t.Helper()
	var put types.PresignPutResponse
	if code := f.do(t, http.MethodPost, "/s3/presign-put", "", types.PresignPutRequest{Key: key, ContentType: "application/pdf"}, &put); code != http.StatusOK {
		t.Fatalf("presign-put: %d", code)
	}
	if code := putBytes(t, put.URL, "application/pdf", data); code != http.StatusOK {
		t.Fatalf("PUT: %d", code)
	}
}

// setScan проводит объект через claim и result.
func (f *apiFixture) setScan(t *testing.T, key, status string) {
	t.Helper()
	if code := f.do(t, http.MethodPost, "/api/v1/scan/claim", "", types.ScanClaimRequest{Key: key}, nil); code != http.StatusOK {
		t.Fatalf("claim: %d", code)
	}
	if code := f.do(t, http.MethodPost, "/api/v1/scan/result", "", types.ScanResultRequest{Key: key, Status: status}, nil); code != http.StatusOK {
		t.Fatalf("result: %d", code)
	}
}

// TestUploadScanDownload — полный цикл: presign PUT → PUT → 202 → CLEAN → GET.
func TestUploadScanDownload(t *testing.T) {
	f := newAPIFixture(t, nil)
	payload := bytes.Repeat([]byte("%PDF"), 256)

	var put types.PresignPutResponse
	code := f.do(t, http.MethodPost, "/s3/presign-put", "", types.PresignPutRequest{Key: scenarioKey, ContentType: "application/pdf"}, &put)
	if code != http.StatusOK {
		t.Fatalf("presign-put: %d", code)
	}
	if put.Key != scenarioKey || !strings.Contains(put.URL, scenarioKey) {
		t.Errorf("ответ presign-put = %+v", put)
	}

	// До загрузки ключ не найден
	var errBody apierrors.ErrorBody
	if code := f.do(t, http.MethodPost, "/s3/presign", "", types.PresignGetRequest{Key: scenarioKey}, &errBody); code != http.StatusNotFound {
		t.Fatalf("presign до загрузки: %d", code)
	}

	if code := putBytes(t, put.URL, "application/pdf", payload); code != http.StatusOK {
		t.Fatalf("PUT: %d", code)
	}
	if code := putBytes(t, put.URL, "application/pdf", payload); code != http.StatusForbidden {
		t.Errorf("повторный PUT по тому же URL: %d, ожидался 403", code)
	}

	errBody = apierrors.ErrorBody{}
	code = f.do(t, http.MethodPost, "/s3/presign", "", types.PresignGetRequest{Key: scenarioKey}, &errBody)
	if code != http.StatusAccepted || errBody.Error != apierrors.MsgScanInProgress || errBody.Code != apierrors.CodeScanInProgress {
		t.Fatalf("presign до сканирования: %d %+v", code, errBody)
	}

	f.setScan(t, scenarioKey, "CLEAN")

	var get types.PresignGetResponse
	if code := f.do(t, http.MethodPost, "/s3/presign", "", types.PresignGetRequest{Key: scenarioKey}, &get); code != http.StatusOK {
		t.Fatalf("presign после CLEAN: %d", code)
	}

	resp, err := http.Get(get.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(got, payload) {
		t.Errorf("GET: %d, байты совпадают: %v", resp.StatusCode, bytes.Equal(got, payload))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestPresignGet_Infected(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.upload(t, scenarioKey, []byte("X5O!P%@AP"))
	f.setScan(t, scenarioKey, "INFECTED")

	var errBody apierrors.ErrorBody
	code := f.do(t, http.MethodPost, "/s3/presign", "", types.PresignGetRequest{Key: scenarioKey}, &errBody)
	if code != http.StatusForbidden || errBody.Code != apierrors.CodeScanRejected {
		t.Errorf("presign INFECTED: %d %+v", code, errBody)
	}
}

func TestPresignPut_Overwrite(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.upload(t, scenarioKey, []byte("v1"))

	var errBody apierrors.ErrorBody
	code := f.do(t, http.MethodPost, "/s3/presign-put", "", types.PresignPutRequest{Key: scenarioKey, ContentType: "application/pdf"}, &errBody)
	if code != http.StatusConflict || errBody.Code != apierrors.CodeObjectExists {
		t.Errorf("presign-put загруженного ключа: %d %+v", code, errBody)
	}
}

func TestObjects_ContentTypeMismatch(t *testing.T) {
	f := newAPIFixture(t, nil)
	var put types.PresignPutResponse
	f.do(t, http.MethodPost, "/s3/presign-put", "", types.PresignPutRequest{Key: scenarioKey, ContentType: "application/pdf"}, &put)

	if code := putBytes(t, put.URL, "text/html", []byte("<html>")); code != http.StatusForbidden {
		t.Errorf("PUT с чужим типом: %d", code)
	}
	if code := putBytes(t, put.URL+"x", "application/pdf", []byte("x")); code != http.StatusForbidden {
		t.Errorf("PUT с испорченным токеном: %d", code)
	}
}

func TestValidationErrors(t *testing.T) {
	f := newAPIFixture(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"presign-put без contentType", http.MethodPost, "/s3/presign-put", map[string]string{"key": scenarioKey}},
		{"presign-put кривой ключ", http.MethodPost, "/s3/presign-put", types.PresignPutRequest{Key: "../x", ContentType: "application/pdf"}},
		{"persist без вложений", http.MethodPost, "/api/uploads", map[string]any{"attachments": []any{}, "metadata": map[string]any{}}},
		{"неизвестный статус сканирования", http.MethodPost, "/api/v1/scan/result", map[string]string{"key": scenarioKey, "status": "DONE"}},
		{"pending limit=0", http.MethodGet, "/api/v1/scan/pending?limit=0", nil},
		{"status без key", http.MethodGet, "/api/v1/scan/status", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errBody apierrors.ErrorBody
			code := f.do(t, tt.method, tt.path, "", tt.body, &errBody)
			if code != http.StatusBadRequest || errBody.Code != apierrors.CodeValidationError {
				t.Errorf("%d %+v", code, errBody)
			}
		})
	}
}

func TestScanEndpoints(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.upload(t, scenarioKey, []byte("data"))

	var pending types.PendingListResponse
	if code := f.do(t, http.MethodGet, "/api/v1/scan/pending?limit=10", "", nil, &pending); code != http.StatusOK {
		t.Fatalf("pending: %d", code)
	}
	if pending.Total != 1 || pending.Items[0].Key != scenarioKey || pending.Items[0].Size != 4 {
		t.Errorf("pending = %+v", pending)
	}

	if code := f.do(t, http.MethodPost, "/api/v1/scan/claim", "", types.ScanClaimRequest{Key: scenarioKey}, nil); code != http.StatusOK {
		t.Fatalf("claim: %d", code)
	}
	var errBody apierrors.ErrorBody
	if code := f.do(t, http.MethodPost, "/api/v1/scan/claim", "", types.ScanClaimRequest{Key: scenarioKey}, &errBody); code != http.StatusConflict {
		t.Errorf("повторный claim: %d %+v", code, errBody)
	}

	var st types.ObjectStatus
	if code := f.do(t, http.MethodGet, "/api/v1/scan/status?key="+scenarioKey, "", nil, &st); code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}
	if st.Status != "SCANNING" || st.Attempts != 1 || st.ScanStartedAt == nil {
		t.Errorf("status = %+v", st)
	}

	if code := f.do(t, http.MethodGet, "/api/v1/scan/status?key=submissions/none/x.pdf", "", nil, nil); code != http.StatusNotFound {
		t.Errorf("status неизвестного: %d", code)
	}
}

// TestSubmissionSaga — persist → notify (ошибка) → повтор notify → receipt.
func TestSubmissionSaga(t *testing.T) {
	f := newAPIFixture(t, nil)
	attachment := types.UploadedAttachment{Key: scenarioKey, Filename: "report.pdf", Size: 4, ContentType: "application/pdf"}

	var persisted types.PersistResponse
	code := f.do(t, http.MethodPost, "/api/uploads", "", types.PersistRequest{
		Attachments: []types.UploadedAttachment{attachment},
		Metadata:    types.SubmissionMetadata{Email: "a@example.com", SubmissionID: "11111111-1111-1111-1111-111111111111"},
	}, &persisted)
	if code != http.StatusOK || persisted.UploadID == "" {
		t.Fatalf("persist: %d %+v", code, persisted)
	}

	notifyReq := types.NotifyRequest{OrderID: persisted.UploadID, Email: "a@example.com", Attachments: []types.UploadedAttachment{attachment}}

	f.notifier.setErr(errors.New("webhook вернул статус 503"))
	var errBody apierrors.ErrorBody
	if code := f.do(t, http.MethodPost, "/api/turnitin/notify", "", notifyReq, &errBody); code != http.StatusBadGateway {
		t.Fatalf("notify при ошибке webhook: %d %+v", code, errBody)
	}

	var rec types.SubmissionResponse
	f.do(t, http.MethodGet, "/api/uploads/"+persisted.UploadID, "", nil, &rec)
	if rec.NotifyStatus != "failed" || rec.NotifyAttempts != 1 {
		t.Errorf("запись после ошибки = %+v", rec)
	}

	receiptReq := types.ReceiptRequest{OrderID: persisted.UploadID, Email: "a@example.com"}
	if code := f.do(t, http.MethodPost, "/api/turnitin/receipt", "", receiptReq, nil); code != http.StatusConflict {
		t.Errorf("receipt до notify: %d", code)
	}

	f.notifier.setErr(nil)
	var step types.StepResponse
	if code := f.do(t, http.MethodPost, "/api/turnitin/notify", "", notifyReq, &step); code != http.StatusOK || !step.OK {
		t.Fatalf("повтор notify: %d %+v", code, step)
	}
	if code := f.do(t, http.MethodPost, "/api/turnitin/receipt", "", receiptReq, &step); code != http.StatusOK || step.OrderID != persisted.UploadID {
		t.Fatalf("receipt: %d %+v", code, step)
	}

	if code := f.do(t, http.MethodGet, "/api/uploads/missing", "", nil, nil); code != http.StatusNotFound {
		t.Errorf("неизвестная запись: %d", code)
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, nil)

	var live types.HealthStatus
	if code := f.do(t, http.MethodGet, "/health/live", "", nil, &live); code != http.StatusOK || live.Status != "ok" {
		t.Errorf("live: %d %+v", code, live)
	}
	var ready types.HealthStatus
	if code := f.do(t, http.MethodGet, "/health/ready", "", nil, &ready); code != http.StatusOK || ready.Checks["status_store"] == "" {
		t.Errorf("ready: %d %+v", code, ready)
	}
}

// --- Аутентификация ---

func newTestAuth(t *testing.T) (*middleware.JWTAuth, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	jwks, _ := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	})
	kf, err := keyfunc.NewJWKSetJSON(jwks)
	if err != nil {
		t.Fatal(err)
	}
	return middleware.NewJWTAuthWithKeyfunc(kf, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil))), key
}

func signToken(t *testing.T, key *rsa.PrivateKey, scopes ...string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "scanner-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ScopeArray: scopes,
	})
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAuth_ScannerScope(t *testing.T) {
	auth, key := newTestAuth(t)
	f := newAPIFixture(t, auth)

	path := "/api/v1/scan/pending"
	if code := f.do(t, http.MethodGet, path, "", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("без токена: %d", code)
	}
	if code := f.do(t, http.MethodGet, path, signToken(t, key, "upload"), nil, nil); code != http.StatusForbidden {
		t.Errorf("без scope: %d", code)
	}
	if code := f.do(t, http.MethodGet, path, signToken(t, key, ScopeScanWrite), nil, nil); code != http.StatusOK {
		t.Errorf("со scope: %d", code)
	}

	// Health и подписанные URL без bearer-токена
	if code := f.do(t, http.MethodGet, "/health/live", "", nil, nil); code != http.StatusOK {
		t.Errorf("health: %d", code)
	}
	if code := f.do(t, http.MethodPost, "/s3/presign-put", "", types.PresignPutRequest{Key: scenarioKey, ContentType: "application/pdf"}, nil); code != http.StatusUnauthorized {
		t.Errorf("presign-put без токена: %d", code)
	}
}
