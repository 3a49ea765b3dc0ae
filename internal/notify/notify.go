// Пакет notify — исходящие уведомления о submission через incoming webhook
// (формат Mattermost: {"text": ..., "props": {...}}).
// Без настроенного URL уведомления только пишутся в лог.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// sentTotal — результаты отправки уведомлений.
var sentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ub_notify_sent_total",
	Help: "Количество отправленных уведомлений (по типу и результату).",
}, []string{"kind", "result"})

// Типы уведомлений.
const (
	KindNotify  = "notify"
	KindReceipt = "receipt"
)

// maxErrorBody — сколько байт тела ответа сохраняется в ошибке.
const maxErrorBody = 512

// Message — тело webhook-запроса.
type Message struct {
	// Kind — тип уведомления (в тело не попадает)
	Kind  string         `json:"-"`
	Text  string         `json:"text"`
	Props map[string]any `json:"props,omitempty"`
}

// Notifier отправляет уведомления.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// StatusError — webhook ответил не 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook вернул статус %d: %s", e.StatusCode, e.Body)
}

// WebhookNotifier — HTTP-клиент incoming webhook.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookNotifier создаёт webhook-клиент.
// caCertPath — путь к CA-сертификату (пустая строка — системный пул).
func NewWebhookNotifier(webhookURL, caCertPath string, timeout time.Duration, logger *slog.Logger) (*WebhookNotifier, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
	}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата webhook: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &WebhookNotifier{
		url: webhookURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger.With(slog.String("component", "notifier")),
	}, nil
}

// Send отправляет сообщение. Ответ вне диапазона 2xx — *StatusError.
func (n *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("сериализация уведомления: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		sentTotal.WithLabelValues(msg.Kind, "error").Inc()
		return fmt.Errorf("запрос webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		sentTotal.WithLabelValues(msg.Kind, "error").Inc()
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	sentTotal.WithLabelValues(msg.Kind, "ok").Inc()
	n.logger.Debug("Уведомление отправлено", slog.String("kind", msg.Kind))
	return nil
}

// LogNotifier пишет уведомления в лог.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "notifier"))}
}

// Send пишет сообщение в лог.
func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.logger.Info("Уведомление (webhook не настроен)",
		slog.String("kind", msg.Kind),
		slog.String("text", msg.Text),
	)
	sentTotal.WithLabelValues(msg.Kind, "logged").Inc()
	return nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
