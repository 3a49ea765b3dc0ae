package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(slog.Default())
	err := p.PublishScanJob(context.Background(), ScanJob{Key: "submissions/a/b.pdf", Attempt: 1})
	if err != nil {
		t.Fatalf("PublishScanJob: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

// setupTestRabbitMQ запускает RabbitMQ в Docker-контейнере через testcontainers.
func setupTestRabbitMQ(t *testing.T) string {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor: wait.ForLog("Server startup complete").
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Не удалось запустить RabbitMQ контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5672")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

func TestAMQPPublisher(t *testing.T) {
	url := setupTestRabbitMQ(t)
	const queueName = "ub.scan.jobs.test"

	p, err := NewAMQPPublisher(url, queueName, slog.Default())
	if err != nil {
		t.Fatalf("NewAMQPPublisher: %v", err)
	}
	defer p.Close()

	job := ScanJob{
		Key:         "submissions/11111111-1111-1111-1111-111111111111/report.pdf",
		ContentType: "application/pdf",
		Size:        42,
		Attempt:     1,
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := p.PublishScanJob(context.Background(), job); err != nil {
		t.Fatalf("PublishScanJob: %v", err)
	}

	// Читаем сообщение отдельным соединением
	conn, err := amqp.Dial(url)
	if err != nil {
		t.Fatalf("amqp.Dial: %v", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}

	var msg amqp.Delivery
	deadline := time.Now().Add(10 * time.Second)
	for {
		m, ok, err := ch.Get(queueName, true)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok {
			msg = m
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("сообщение не появилось в очереди")
		}
		time.Sleep(100 * time.Millisecond)
	}

	if msg.DeliveryMode != amqp.Persistent {
		t.Errorf("DeliveryMode = %d, ожидалось persistent", msg.DeliveryMode)
	}
	var got ScanJob
	if err := json.Unmarshal(msg.Body, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Key != job.Key || got.Size != 42 || got.Attempt != 1 {
		t.Errorf("задание = %+v", got)
	}

	// После Close публикация невозможна
	_ = p.Close()
	if err := p.PublishScanJob(context.Background(), job); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("публикация после Close: %v", err)
	}
}
