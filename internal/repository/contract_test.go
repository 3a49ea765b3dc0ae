package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
)

// Общие проверки контракта, прогоняемые для всех бэкендов.

func testObjectRepository(t *testing.T, repo ObjectRepository) {
	t.Run("Register и Get", func(t *testing.T) { testRegisterGet(t, repo) })
	t.Run("повторная регистрация", func(t *testing.T) { testReRegister(t, repo) })
	t.Run("MarkUploaded", func(t *testing.T) { testMarkUploaded(t, repo) })
	t.Run("Transition CAS", func(t *testing.T) { testTransitionCAS(t, repo) })
	t.Run("конкурентный claim", func(t *testing.T) { testConcurrentClaim(t, repo) })
	t.Run("List", func(t *testing.T) { testList(t, repo) })
}

func newKey() string {
	return fmt.Sprintf("submissions/%s/report.pdf", uuid.NewString())
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func register(t *testing.T, repo ObjectRepository, key string, at time.Time) *model.Object {
	t.Helper()
	o, err := repo.Register(context.Background(), &model.Object{
		Key: key, ContentType: "application/pdf", SubmissionID: "sub-1", CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", key, err)
	}
	return o
}

func testRegisterGet(t *testing.T, repo ObjectRepository) {
	ctx := context.Background()
	key := newKey()
	at := now()

	o := register(t, repo, key, at)
	if o.Status != model.ScanPending || o.Uploaded() || o.ScanAttempts != 0 {
		t.Errorf("новый объект: %+v", o)
	}

	got, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ContentType != "application/pdf" || got.SubmissionID != "sub-1" {
		t.Errorf("Get: %+v", got)
	}
	if !got.StatusChangedAt.Equal(at) {
		t.Errorf("StatusChangedAt = %v, ожидалось %v", got.StatusChangedAt, at)
	}

	if _, err := repo.Get(ctx, "submissions/missing/x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get несуществующего: %v, ожидался ErrNotFound", err)
	}
}

func testReRegister(t *testing.T, repo ObjectRepository) {
	ctx := context.Background()
	key := newKey()
	register(t, repo, key, now())

	// До загрузки — перерегистрация с новым типом разрешена
	o, err := repo.Register(ctx, &model.Object{Key: key, ContentType: "image/png", CreatedAt: now()})
	if err != nil {
		t.Fatalf("перерегистрация: %v", err)
	}
	if o.ContentType != "image/png" {
		t.Errorf("ContentType = %q", o.ContentType)
	}

	if _, err := repo.MarkUploaded(ctx, key, 10, now()); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}

	// После загрузки — объект неизменяем
	_, err = repo.Register(ctx, &model.Object{Key: key, ContentType: "image/png", CreatedAt: now()})
	if !errors.Is(err, ErrAlreadyUploaded) {
		t.Errorf("регистрация загруженного: %v, ожидался ErrAlreadyUploaded", err)
	}
}

func testMarkUploaded(t *testing.T, repo ObjectRepository) {
	ctx := context.Background()
	key := newKey()
	register(t, repo, key, now())

	at := now()
	o, err := repo.MarkUploaded(ctx, key, 1234, at)
	if err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
	if !o.Uploaded() || !o.UploadedAt.Equal(at) || o.Size != 1234 {
		t.Errorf("после MarkUploaded: %+v", o)
	}
	if o.Status != model.ScanPending {
		t.Errorf("статус изменился: %s", o.Status)
	}

	if _, err := repo.MarkUploaded(ctx, key, 1, now()); !errors.Is(err, ErrAlreadyUploaded) {
		t.Errorf("повторный MarkUploaded: %v", err)
	}
	if _, err := repo.MarkUploaded(ctx, newKey(), 1, now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkUploaded несуществующего: %v", err)
	}
}

func testTransitionCAS(t *testing.T, repo ObjectRepository) {
	ctx := context.Background()
	key := newKey()
	register(t, repo, key, now())

	claimedAt := now()
	o, err := repo.Transition(ctx, key, model.ScanPending, model.ScanScanning, "", claimedAt)
	if err != nil {
		t.Fatalf("PENDING→SCANNING: %v", err)
	}
	if o.ScanAttempts != 1 || o.ScanStartedAt == nil || !o.ScanStartedAt.Equal(claimedAt) {
		t.Errorf("после claim: attempts=%d started=%v", o.ScanAttempts, o.ScanStartedAt)
	}

	// Ожидаемый from не совпадает
	if _, err := repo.Transition(ctx, key, model.ScanPending, model.ScanScanning, "", now()); !errors.Is(err, ErrConflict) {
		t.Errorf("повторный claim: %v, ожидался ErrConflict", err)
	}

	o, err = repo.Transition(ctx, key, model.ScanScanning, model.ScanInfected, "Eicar-Test-Signature", now())
	if err != nil {
		t.Fatalf("SCANNING→INFECTED: %v", err)
	}
	if o.Status != model.ScanInfected || o.ScanDetail != "Eicar-Test-Signature" || o.ScanAttempts != 1 {
		t.Errorf("после вердикта: %+v", o)
	}

	if _, err := repo.Transition(ctx, newKey(), model.ScanPending, model.ScanScanning, "", now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("переход несуществующего: %v", err)
	}
}

func testConcurrentClaim(t *testing.T, repo ObjectRepository) {
	ctx := context.Background()
	key := newKey()
	register(t, repo, key, now())

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Transition(ctx, key, model.ScanPending, model.ScanScanning, "", now())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || conflicts.Load() != 15 {
		t.Errorf("wins=%d conflicts=%d, ожидалось 1/15", wins.Load(), conflicts.Load())
	}

	o, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if o.ScanAttempts != 1 {
		t.Errorf("ScanAttempts = %d, ожидалось 1", o.ScanAttempts)
	}
}

func testList(t *testing.T, repo ObjectRepository) {
	ctx := context.Background()
	base := now().Add(-time.Hour)

	uploaded := newKey()
	register(t, repo, uploaded, base)
	if _, err := repo.MarkUploaded(ctx, uploaded, 1, base); err != nil {
		t.Fatal(err)
	}
	notUploaded := newKey()
	register(t, repo, notUploaded, base)

	stale := newKey()
	register(t, repo, stale, base)
	if _, err := repo.Transition(ctx, stale, model.ScanPending, model.ScanScanning, "", base); err != nil {
		t.Fatal(err)
	}
	fresh := newKey()
	register(t, repo, fresh, base)
	if _, err := repo.Transition(ctx, fresh, model.ScanPending, model.ScanScanning, "", now()); err != nil {
		t.Fatal(err)
	}

	pending, err := repo.List(ctx, ListFilter{Status: model.ScanPending, UploadedOnly: true, Limit: 500})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !containsKey(pending, uploaded) || containsKey(pending, notUploaded) {
		t.Errorf("UploadedOnly: uploaded=%v notUploaded=%v", containsKey(pending, uploaded), containsKey(pending, notUploaded))
	}

	scanning, err := repo.List(ctx, ListFilter{Status: model.ScanScanning, EnteredBefore: now().Add(-30 * time.Minute), Limit: 500})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !containsKey(scanning, stale) || containsKey(scanning, fresh) {
		t.Errorf("EnteredBefore: stale=%v fresh=%v", containsKey(scanning, stale), containsKey(scanning, fresh))
	}

	// stale и fresh сделали по одной попытке
	exhausted, err := repo.List(ctx, ListFilter{Status: model.ScanScanning, MaxAttempts: 1, Limit: 500})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if containsKey(exhausted, stale) || containsKey(exhausted, fresh) {
		t.Error("MaxAttempts=1: в выборку попали объекты без оставшихся попыток")
	}
	retryable, err := repo.List(ctx, ListFilter{Status: model.ScanScanning, MaxAttempts: 2, Limit: 500})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !containsKey(retryable, stale) || !containsKey(retryable, fresh) {
		t.Errorf("MaxAttempts=2: stale=%v fresh=%v", containsKey(retryable, stale), containsKey(retryable, fresh))
	}

	one, err := repo.List(ctx, ListFilter{Status: model.ScanPending, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 {
		t.Errorf("Limit=1: получено %d", len(one))
	}
}

func containsKey(objs []*model.Object, key string) bool {
	for _, o := range objs {
		if o.Key == key {
			return true
		}
	}
	return false
}

func testSubmissionRepository(t *testing.T, repo SubmissionRepository) {
	ctx := context.Background()
	at := now()

	rec := &model.SubmissionRecord{
		ID:                 uuid.NewString(),
		ClientSubmissionID: "11111111-1111-1111-1111-111111111111",
		Email:              "student@example.com",
		Notes:              "срочно",
		Attachments: []model.Attachment{{
			Key:         "submissions/11111111-1111-1111-1111-111111111111/report.pdf",
			Filename:    "report.pdf",
			Size:        2048,
			ContentType: "application/pdf",
		}},
		NotifyStatus:  model.StepPending,
		ReceiptStatus: model.StepPending,
		CreatedAt:     at,
	}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, rec); !errors.Is(err, ErrConflict) {
		t.Errorf("повторный Create: %v, ожидался ErrConflict", err)
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.Attachments) != 1 || got.Attachments[0] != rec.Attachments[0] {
		t.Errorf("Attachments = %+v", got.Attachments)
	}
	if got.Email != rec.Email || got.Notes != rec.Notes || got.ClientSubmissionID != rec.ClientSubmissionID {
		t.Errorf("GetByID = %+v", got)
	}

	got, err = repo.UpdateNotify(ctx, rec.ID, model.StepFailed, "webhook 500", now())
	if err != nil {
		t.Fatalf("UpdateNotify: %v", err)
	}
	if got.NotifyStatus != model.StepFailed || got.NotifyAttempts != 1 || got.NotifyError != "webhook 500" {
		t.Errorf("после UpdateNotify: %+v", got)
	}
	got, err = repo.UpdateNotify(ctx, rec.ID, model.StepSent, "", now())
	if err != nil {
		t.Fatal(err)
	}
	if got.NotifyStatus != model.StepSent || got.NotifyAttempts != 2 || got.NotifyError != "" {
		t.Errorf("после повтора: %+v", got)
	}

	got, err = repo.UpdateReceipt(ctx, rec.ID, model.StepSent, now())
	if err != nil {
		t.Fatalf("UpdateReceipt: %v", err)
	}
	if got.ReceiptStatus != model.StepSent || got.ReceiptAttempts != 1 {
		t.Errorf("после UpdateReceipt: %+v", got)
	}

	if _, err := repo.GetByID(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID несуществующего: %v", err)
	}
	if _, err := repo.UpdateNotify(ctx, uuid.NewString(), model.StepSent, "", now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateNotify несуществующего: %v", err)
	}
}
