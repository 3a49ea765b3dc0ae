package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPublisherClosed — публикация после Close.
var ErrPublisherClosed = errors.New("publisher закрыт")

// AMQPPublisher публикует задания в durable-очередь RabbitMQ
// через default exchange (routing key = имя очереди).
type AMQPPublisher struct {
	url    string
	queue  string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// NewAMQPPublisher подключается к брокеру и объявляет очередь.
func NewAMQPPublisher(url, queue string, logger *slog.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		url:    url,
		queue:  queue,
		logger: logger.With(slog.String("component", "scan_queue")),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	p.logger.Info("Подключение к RabbitMQ установлено", slog.String("queue", queue))
	return p, nil
}

// connect открывает соединение и канал. Вызывается под mu либо из конструктора.
func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("подключение к RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("открытие канала RabbitMQ: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("объявление очереди %s: %w", p.queue, err)
	}
	p.conn = conn
	p.ch = ch
	return nil
}

// PublishScanJob публикует задание как persistent JSON-сообщение.
// При разорванном соединении выполняется одна попытка переподключения.
func (p *AMQPPublisher) PublishScanJob(ctx context.Context, job ScanJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("сериализация задания: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    job.EnqueuedAt,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}

	if p.conn == nil || p.conn.IsClosed() {
		if err := p.connect(); err != nil {
			publishedTotal.WithLabelValues("amqp", "error").Inc()
			return err
		}
		p.logger.Info("Переподключение к RabbitMQ выполнено")
	}

	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		publishedTotal.WithLabelValues("amqp", "error").Inc()
		// Канал после ошибки непригоден, следующее сообщение переподключится
		_ = p.conn.Close()
		return fmt.Errorf("публикация задания %s: %w", job.Key, err)
	}

	publishedTotal.WithLabelValues("amqp", "ok").Inc()
	p.logger.Debug("Задание опубликовано",
		slog.String("key", job.Key),
		slog.Int("attempt", job.Attempt),
	)
	return nil
}

// Close закрывает канал и соединение.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn.Close()
	}
	return nil
}
