// Пакет coordinator — клиентская сторона submission: загрузка файлов по
// presigned URL, сохранение submission и шаги notify/receipt через API брокера.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/bigkaa/goartstore/upload-broker/internal/api/errors"
	"github.com/bigkaa/goartstore/upload-broker/internal/api/types"
)

// maxErrorBody — сколько байт тела ошибки читать для диагностики.
const maxErrorBody = 4096

// Client — HTTP-клиент API Upload Broker.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient создаёт клиент брокера.
// token — bearer-токен (пустая строка — без авторизации).
// timeout — таймаут одного HTTP-запроса, включая загрузку файла.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{MaxIdleConnsPerHost: 10},
		},
		logger: logger.With(slog.String("component", "broker_client")),
	}
}

// PresignPut запрашивает presigned PUT URL.
func (c *Client) PresignPut(ctx context.Context, key, contentType string) (*types.PresignPutResponse, error) {
	var resp types.PresignPutResponse
	req := types.PresignPutRequest{Key: key, ContentType: contentType}
	if err := c.postJSON(ctx, "/s3/presign-put", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PresignGet запрашивает presigned GET URL.
// Любой статус, кроме 200 (включая 202), возвращается как *HTTPError.
func (c *Client) PresignGet(ctx context.Context, key string) (*types.PresignGetResponse, error) {
	var resp types.PresignGetResponse
	if err := c.postJSON(ctx, "/s3/presign", types.PresignGetRequest{Key: key}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Upload выполняет PUT тела файла по presigned URL.
// URL уже содержит авторизацию, bearer-токен не передаётся.
func (c *Client) Upload(ctx context.Context, url, contentType string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return fmt.Errorf("создание запроса PUT: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL выдан брокером
	if err != nil {
		return fmt.Errorf("PUT объекта: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readHTTPError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Persist сохраняет submission и возвращает uploadId брокера.
func (c *Client) Persist(ctx context.Context, req types.PersistRequest) (string, error) {
	var resp types.PersistResponse
	if err := c.postJSON(ctx, "/api/uploads", req, &resp); err != nil {
		return "", err
	}
	return resp.UploadID, nil
}

// Notify отправляет шаг notify.
func (c *Client) Notify(ctx context.Context, req types.NotifyRequest) error {
	var resp types.StepResponse
	return c.postJSON(ctx, "/api/turnitin/notify", req, &resp)
}

// Receipt отправляет шаг receipt.
func (c *Client) Receipt(ctx context.Context, req types.ReceiptRequest) error {
	var resp types.StepResponse
	return c.postJSON(ctx, "/api/turnitin/receipt", req, &resp)
}

// postJSON выполняет POST с JSON-телом. Успех — только 200.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("кодирование запроса %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("создание запроса %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return fmt.Errorf("запрос %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		herr := readHTTPError(resp)
		c.logger.Debug("Неуспешный ответ брокера",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return herr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа %s: %w", path, err)
	}
	return nil
}

// readHTTPError читает тело ошибки брокера ({"error", "code"}) или текст.
func readHTTPError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	herr := &HTTPError{StatusCode: resp.StatusCode}

	var eb apierrors.ErrorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		herr.Message = eb.Error
		herr.Code = eb.Code
		return herr
	}
	herr.Message = strings.TrimSpace(string(body))
	if herr.Message == "" {
		herr.Message = http.StatusText(resp.StatusCode)
	}
	return herr
}
