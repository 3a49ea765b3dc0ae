package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/upload-broker/internal/api/types"
)

const (
	// DefaultMaxFileSize — лимит размера файла по умолчанию (25 MiB).
	DefaultMaxFileSize = 25 << 20
	// DefaultKeyPrefix — префикс ключей submission.
	DefaultKeyPrefix = "submissions/"

	defaultContentType = "application/octet-stream"
)

// File — файл для загрузки.
type File struct {
	Name        string
	ContentType string
	Size        int64
	// Open открывает тело файла; вызывается один раз на загрузку
	Open func() (io.ReadCloser, error)
}

// FileFromPath описывает файл на диске. Тип содержимого определяется по расширению.
func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s — директория", path)
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = defaultContentType
	}
	return File{
		Name:        filepath.Base(path),
		ContentType: ct,
		Size:        info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path) //nolint:gosec // G304: путь задан пользователем CLI
		},
	}, nil
}

// Config — параметры координатора.
type Config struct {
	// Parallelism — число одновременных загрузок (<= 1 — последовательно)
	Parallelism int
	// MaxFileSize — лимит размера файла (0 — DefaultMaxFileSize)
	MaxFileSize int64
	// KeyPrefix — префикс ключей (пусто — DefaultKeyPrefix)
	KeyPrefix string
}

// Callbacks — уведомления о ходе submission. Любое поле может быть nil.
// При статусе partial OnError получает *PartialError с вложениями для RetryNotify.
type Callbacks struct {
	OnStatus  func(Status)
	OnSuccess func(submissionID string, attachments []types.UploadedAttachment)
	OnError   func(err error)
}

// Result — итог submission.
type Result struct {
	// SubmissionID — идентификатор ключей; OrderID — идентификатор саги
	// (uploadId брокера, если persist прошёл, иначе SubmissionID)
	SubmissionID string
	OrderID      string
	Attachments  []types.UploadedAttachment
	Status       Status
	// NotifyErr — причина статуса partial
	NotifyErr error
}

// Coordinator проводит submission: upload → persist → notify → receipt.
// Одновременно выполняется не более одного submission.
type Coordinator struct {
	client    *Client
	cfg       Config
	callbacks Callbacks
	logger    *slog.Logger

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
}

// New создаёт координатор.
func New(client *Client, cfg Config, callbacks Callbacks, logger *slog.Logger) *Coordinator {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Coordinator{
		client:    client,
		cfg:       cfg,
		callbacks: callbacks,
		logger:    logger.With(slog.String("component", "submission_coordinator")),
		status:    StatusIdle,
	}
}

// Status возвращает текущее состояние.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Cancel отменяет текущий submission. Завершённые PUT не откатываются.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// begin занимает координатор под один submission.
func (c *Coordinator) begin(ctx context.Context) (context.Context, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil, nil, ErrSubmissionInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	return runCtx, func() {
		cancel()
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}, nil
}

func (c *Coordinator) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	if c.callbacks.OnStatus != nil {
		c.callbacks.OnStatus(s)
	}
}

// fail переводит submission в error либо cancelled.
func (c *Coordinator) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, ErrCancelled) {
		c.setStatus(StatusCancelled)
		c.logger.Info("Submission отменён")
		return ErrCancelled
	}
	c.setStatus(StatusError)
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
	return err
}

// checkCancelled вызывается перед каждым сетевым запросом.
func checkCancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// SubmitDocuments загружает файлы и проводит сагу submission.
// Ошибка presign или загрузки любого файла прерывает submission целиком.
// Ошибка persist игнорируется, ошибка notify даёт статус partial без ошибки.
func (c *Coordinator) SubmitDocuments(ctx context.Context, files []File, meta types.SubmissionMetadata) (*Result, error) {
	runCtx, done, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if err := c.validate(files); err != nil {
		return nil, c.fail(runCtx, err)
	}

	submissionID := meta.SubmissionID
	if submissionID == "" {
		submissionID = NewSubmissionID()
	}
	log := c.logger.With(slog.String("submission_id", submissionID))

	// 1. Загрузка
	c.setStatus(StatusUploading)
	attachments, err := c.uploadAll(runCtx, submissionID, files)
	if err != nil {
		log.Warn("Загрузка прервана", slog.String("error", err.Error()))
		return nil, c.fail(runCtx, err)
	}

	// 2. Persist: ошибка не фатальна
	c.setStatus(StatusSubmitting)
	orderID := submissionID
	if err := checkCancelled(runCtx); err != nil {
		return nil, c.fail(runCtx, err)
	}
	meta.SubmissionID = submissionID
	uploadID, err := c.client.Persist(runCtx, types.PersistRequest{Attachments: attachments, Metadata: meta})
	switch {
	case err != nil && runCtx.Err() != nil:
		return nil, c.fail(runCtx, err)
	case err != nil:
		log.Warn("Не удалось сохранить submission, продолжаем",
			slog.String("error", (&StageError{Stage: StagePersist, Err: err}).Error()),
		)
	case uploadID != "":
		orderID = uploadID
	}

	result := &Result{SubmissionID: submissionID, OrderID: orderID, Attachments: attachments}

	// 3. Notify + receipt
	if meta.Email != "" {
		c.setStatus(StatusNotifying)
		if err := c.notify(runCtx, orderID, meta.Email, attachments); err != nil {
			if runCtx.Err() != nil {
				return nil, c.fail(runCtx, err)
			}
			return c.partial(result, err), nil
		}
	}

	result.Status = StatusSuccess
	c.setStatus(StatusSuccess)
	log.Info("Submission завершён", slog.Int("attachments", len(attachments)))
	if c.callbacks.OnSuccess != nil {
		c.callbacks.OnSuccess(orderID, attachments)
	}
	return result, nil
}

// RetryNotify повторяет notify (и receipt) без повторной загрузки.
func (c *Coordinator) RetryNotify(
	ctx context.Context, orderID, email string, attachments []types.UploadedAttachment,
) (*Result, error) {
	runCtx, done, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	result := &Result{OrderID: orderID, Attachments: attachments}
	c.setStatus(StatusNotifying)
	if err := c.notify(runCtx, orderID, email, attachments); err != nil {
		if runCtx.Err() != nil {
			return nil, c.fail(runCtx, err)
		}
		return c.partial(result, err), nil
	}

	result.Status = StatusSuccess
	c.setStatus(StatusSuccess)
	if c.callbacks.OnSuccess != nil {
		c.callbacks.OnSuccess(orderID, attachments)
	}
	return result, nil
}

func (c *Coordinator) partial(result *Result, err error) *Result {
	stageErr := &StageError{Stage: StageNotify, Err: err}
	result.Status = StatusPartial
	result.NotifyErr = stageErr
	c.setStatus(StatusPartial)
	c.logger.Warn("Файлы сохранены, уведомление не отправлено",
		slog.String("order_id", result.OrderID),
		slog.String("error", err.Error()),
	)
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(&PartialError{
			OrderID:     result.OrderID,
			Attachments: result.Attachments,
			Err:         stageErr,
		})
	}
	return result
}

// notify отправляет notify и, при успехе, receipt (best-effort).
func (c *Coordinator) notify(ctx context.Context, orderID, email string, attachments []types.UploadedAttachment) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	if err := c.client.Notify(ctx, types.NotifyRequest{
		OrderID: orderID, Email: email, Attachments: attachments,
	}); err != nil {
		return err
	}

	if checkCancelled(ctx) != nil {
		return nil
	}
	if err := c.client.Receipt(ctx, types.ReceiptRequest{OrderID: orderID, Email: email}); err != nil {
		c.logger.Warn("Receipt не отправлен",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// validate проверяет список файлов до сетевых запросов.
func (c *Coordinator) validate(files []File) error {
	if len(files) == 0 {
		return &StageError{Stage: StageValidate, Err: ErrNoFiles}
	}
	for _, f := range files {
		if f.Size > c.cfg.MaxFileSize {
			return &StageError{
				Stage: StageValidate,
				File:  f.Name,
				Err:   fmt.Errorf("%w: %d > %d байт", ErrFileTooLarge, f.Size, c.cfg.MaxFileSize),
			}
		}
		if f.Open == nil {
			return &StageError{Stage: StageValidate, File: f.Name, Err: errors.New("нет источника данных")}
		}
	}
	return nil
}

// uploadAll загружает файлы с ограничением параллелизма.
// Совпадающие после очистки имена получают суффикс до первого запроса.
// Первая ошибка отменяет остальные загрузки; порядок вложений совпадает с входным.
func (c *Coordinator) uploadAll(ctx context.Context, submissionID string, files []File) ([]types.UploadedAttachment, error) {
	attachments := make([]types.UploadedAttachment, len(files))

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	names = UniqueFilenames(names)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)
	for i, f := range files {
		g.Go(func() error {
			att, err := c.uploadOne(gctx, ObjectKey(c.cfg.KeyPrefix, submissionID, names[i]), f)
			if err != nil {
				return err
			}
			attachments[i] = att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return attachments, nil
}

// uploadOne: presign PUT и загрузка тела одного файла под ключом key.
func (c *Coordinator) uploadOne(ctx context.Context, key string, f File) (types.UploadedAttachment, error) {
	ct := f.ContentType
	if ct == "" {
		ct = defaultContentType
	}

	if err := checkCancelled(ctx); err != nil {
		return types.UploadedAttachment{}, err
	}
	presigned, err := c.client.PresignPut(ctx, key, ct)
	if err != nil {
		return types.UploadedAttachment{}, &StageError{Stage: StagePresign, File: f.Name, Err: err}
	}

	if err := checkCancelled(ctx); err != nil {
		return types.UploadedAttachment{}, err
	}
	body, err := f.Open()
	if err != nil {
		return types.UploadedAttachment{}, &StageError{Stage: StageUpload, File: f.Name, Err: err}
	}
	defer body.Close()

	if err := c.client.Upload(ctx, presigned.URL, ct, body, f.Size); err != nil {
		return types.UploadedAttachment{}, &StageError{Stage: StageUpload, File: f.Name, Err: err}
	}

	c.logger.Debug("Файл загружен", slog.String("key", key), slog.Int64("size", f.Size))
	return types.UploadedAttachment{
		Key:         key,
		Filename:    f.Name,
		Size:        f.Size,
		ContentType: ct,
	}, nil
}

// DownloadURL запрашивает presigned GET URL.
// 202/403/404/500 отображаются в ErrScanPending/ErrScanRejected/ErrNotFound/ErrScanFailed.
func (c *Coordinator) DownloadURL(ctx context.Context, key string) (string, error) {
	resp, err := c.client.PresignGet(ctx, key)
	if err == nil {
		return resp.URL, nil
	}

	var herr *HTTPError
	if !errors.As(err, &herr) {
		return "", err
	}
	var sentinel error
	switch herr.StatusCode {
	case http.StatusAccepted:
		sentinel = ErrScanPending
	case http.StatusForbidden:
		sentinel = ErrScanRejected
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusInternalServerError:
		sentinel = ErrScanFailed
	default:
		return "", err
	}
	return "", fmt.Errorf("%w: %s", sentinel, key)
}
