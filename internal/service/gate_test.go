package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
)

func TestScanGate_UnknownKey(t *testing.T) {
	f := newGateFixture(3)
	_, err := f.gate.Authorize(context.Background(), "submissions/none/x.pdf")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Authorize: %v, ожидалась ErrNotFound", err)
	}
}

// TestScanGate_NeverUploaded — ключ выписан, но байты так и не записаны.
func TestScanGate_NeverUploaded(t *testing.T) {
	f := newGateFixture(3)
	ctx := context.Background()
	if _, err := f.gate.Register(ctx, scenarioKey, "application/pdf"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.gate.Authorize(ctx, scenarioKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("Authorize: %v, ожидалась ErrNotFound", err)
	}
}

// TestScanGate_ProbeUpload — объект загружен напрямую в хранилище,
// gate узнаёт об этом при первом запросе GET presign.
func TestScanGate_ProbeUpload(t *testing.T) {
	f := newGateFixture(3)
	ctx := context.Background()
	if _, err := f.gate.Register(ctx, scenarioKey, "application/pdf"); err != nil {
		t.Fatal(err)
	}
	f.backend.put(scenarioKey, 2048)

	_, err := f.gate.Authorize(ctx, scenarioKey)
	if !errors.Is(err, ErrScanPending) {
		t.Fatalf("Authorize: %v, ожидалась ErrScanPending", err)
	}
	if !strings.Contains(err.Error(), "scan in progress") {
		t.Errorf("текст ошибки %q", err)
	}

	obj, _ := f.repo.Get(ctx, scenarioKey)
	if !obj.Uploaded() || obj.Size != 2048 {
		t.Errorf("объект не отмечен загруженным: %+v", obj)
	}
	if f.publisher.count() != 1 {
		t.Errorf("опубликовано заданий: %d, ожидалось 1", f.publisher.count())
	}
}

// TestScanGate_NoAccessBeforeClean проходит все статусы до CLEAN.
func TestScanGate_NoAccessBeforeClean(t *testing.T) {
	f := newGateFixture(3)
	ctx := context.Background()
	if err := f.uploaded(ctx, scenarioKey); err != nil {
		t.Fatal(err)
	}

	if _, err := f.gate.Authorize(ctx, scenarioKey); !errors.Is(err, ErrScanPending) {
		t.Fatalf("PENDING: %v", err)
	}

	if _, err := f.gate.Claim(ctx, scenarioKey); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.gate.Authorize(ctx, scenarioKey); !errors.Is(err, ErrScanPending) {
		t.Fatalf("SCANNING: %v", err)
	}

	if _, err := f.gate.SetStatus(ctx, scenarioKey, model.ScanClean, ""); err != nil {
		t.Fatalf("SetStatus(CLEAN): %v", err)
	}

	// CLEAN не откатывается: повторные запросы всегда разрешены
	for i := 0; i < 3; i++ {
		obj, err := f.gate.Authorize(ctx, scenarioKey)
		if err != nil {
			t.Fatalf("CLEAN, запрос %d: %v", i, err)
		}
		if obj.Status != model.ScanClean {
			t.Errorf("статус = %s", obj.Status)
		}
	}

	if _, err := f.gate.SetStatus(ctx, scenarioKey, model.ScanPending, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("CLEAN → PENDING: %v, ожидалась ErrInvalidTransition", err)
	}
}

func TestScanGate_Infected(t *testing.T) {
	f := newGateFixture(3)
	ctx := context.Background()
	_ = f.uploaded(ctx, scenarioKey)
	_, _ = f.gate.Claim(ctx, scenarioKey)

	obj, err := f.gate.SetStatus(ctx, scenarioKey, model.ScanInfected, "Eicar-Test-Signature")
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if obj.ScanDetail != "Eicar-Test-Signature" {
		t.Errorf("detail = %q", obj.ScanDetail)
	}

	if _, err := f.gate.Authorize(ctx, scenarioKey); !errors.Is(err, ErrScanRejected) {
		t.Errorf("Authorize: %v, ожидалась ErrScanRejected", err)
	}
}

// TestScanGate_ErrorAttempts — ERROR ждёт повтора, пока есть попытки.
func TestScanGate_ErrorAttempts(t *testing.T) {
	f := newGateFixture(2)
	ctx := context.Background()
	_ = f.uploaded(ctx, scenarioKey)

	// Попытка 1
	_, _ = f.gate.Claim(ctx, scenarioKey)
	if _, err := f.gate.SetStatus(ctx, scenarioKey, model.ScanError, "clamd unavailable"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.gate.Authorize(ctx, scenarioKey); !errors.Is(err, ErrScanPending) {
		t.Fatalf("ERROR с попытками: %v", err)
	}

	// Повторная постановка и попытка 2
	if _, err := f.gate.SetStatus(ctx, scenarioKey, model.ScanPending, ""); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	_, _ = f.gate.Claim(ctx, scenarioKey)
	_, _ = f.gate.SetStatus(ctx, scenarioKey, model.ScanError, "clamd unavailable")

	if _, err := f.gate.Authorize(ctx, scenarioKey); !errors.Is(err, ErrScanFailed) {
		t.Fatalf("ERROR без попыток: %v, ожидалась ErrScanFailed", err)
	}
	if _, err := f.gate.SetStatus(ctx, scenarioKey, model.ScanPending, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("requeue без попыток: %v", err)
	}
}

// TestScanGate_ClaimOnce — из конкурирующих сканеров объект получает ровно один.
func TestScanGate_ClaimOnce(t *testing.T) {
	f := newGateFixture(3)
	ctx := context.Background()
	_ = f.uploaded(ctx, scenarioKey)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		won       int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.gate.Claim(ctx, scenarioKey)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("Claim: %v", err)
			}
		}()
	}
	wg.Wait()

	if won != 1 || conflicts != workers-1 {
		t.Errorf("won=%d conflicts=%d", won, conflicts)
	}
	obj, _ := f.repo.Get(ctx, scenarioKey)
	if obj.ScanAttempts != 1 {
		t.Errorf("ScanAttempts = %d, ожидалось 1", obj.ScanAttempts)
	}
}

func TestScanGate_ClaimNotUploaded(t *testing.T) {
	f := newGateFixture(3)
	ctx := context.Background()
	_, _ = f.gate.Register(ctx, scenarioKey, "application/pdf")

	if _, err := f.gate.Claim(ctx, scenarioKey); !errors.Is(err, ErrNotUploaded) {
		t.Errorf("Claim: %v, ожидалась ErrNotUploaded", err)
	}
	if _, err := f.gate.Claim(ctx, "submissions/none/x.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Claim неизвестного: %v", err)
	}
}

// TestScanGate_SetScanningNotUploaded — ручной перевод в SCANNING
// подчиняется тому же правилу, что и Claim.
func TestScanGate_SetScanningNotUploaded(t *testing.T) {
	f := newGateFixture(3)
	ctx := context.Background()
	_, _ = f.gate.Register(ctx, scenarioKey, "application/pdf")

	if _, err := f.gate.SetStatus(ctx, scenarioKey, model.ScanScanning, ""); !errors.Is(err, ErrNotUploaded) {
		t.Fatalf("SetStatus(SCANNING): %v, ожидалась ErrNotUploaded", err)
	}
	obj, _ := f.repo.Get(ctx, scenarioKey)
	if obj.Status != model.ScanPending || obj.ScanAttempts != 0 {
		t.Errorf("объект изменён: %+v", obj)
	}

	f.backend.put(scenarioKey, 10)
	if _, err := f.gate.Authorize(ctx, scenarioKey); !errors.Is(err, ErrScanPending) {
		t.Fatalf("Authorize: %v", err)
	}
	if _, err := f.gate.SetStatus(ctx, scenarioKey, model.ScanScanning, ""); err != nil {
		t.Errorf("SetStatus(SCANNING) после загрузки: %v", err)
	}
}

func TestScanGate_InvalidTransition(t *testing.T) {
	f := newGateFixture(3)
	ctx := context.Background()
	_ = f.uploaded(ctx, scenarioKey)

	if _, err := f.gate.SetStatus(ctx, scenarioKey, model.ScanClean, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("PENDING → CLEAN: %v", err)
	}
	if _, err := f.gate.SetStatus(ctx, scenarioKey, model.ScanStatus("DONE"), ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("неизвестный статус: %v", err)
	}
}

// TestScanGate_ImmutableObject — загруженный ключ нельзя выписать повторно.
func TestScanGate_ImmutableObject(t *testing.T) {
	f := newGateFixture(3)
	ctx := context.Background()
	_ = f.uploaded(ctx, scenarioKey)

	if _, err := f.gate.Register(ctx, scenarioKey, "application/pdf"); !errors.Is(err, ErrObjectExists) {
		t.Errorf("Register: %v, ожидалась ErrObjectExists", err)
	}
	if _, err := f.gate.MarkUploaded(ctx, scenarioKey, 1, UploadSourcePut); !errors.Is(err, ErrObjectExists) {
		t.Errorf("MarkUploaded: %v, ожидалась ErrObjectExists", err)
	}
}

func TestScanGate_ListPending(t *testing.T) {
	f := newGateFixture(3)
	ctx := context.Background()
	_ = f.uploaded(ctx, "submissions/a/1.pdf")
	_ = f.uploaded(ctx, "submissions/a/2.pdf")
	_, _ = f.gate.Register(ctx, "submissions/a/3.pdf", "application/pdf")
	_, _ = f.gate.Claim(ctx, "submissions/a/2.pdf")

	objs, err := f.gate.ListPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 1 || objs[0].Key != "submissions/a/1.pdf" {
		t.Errorf("ListPending = %v", objs)
	}
}

// TestScanGate_PublishFailure — ошибка очереди не ломает загрузку.
func TestScanGate_PublishFailure(t *testing.T) {
	f := newGateFixture(3)
	f.publisher.err = errors.New("broker down")
	ctx := context.Background()

	if err := f.uploaded(ctx, scenarioKey); err != nil {
		t.Fatalf("загрузка при недоступной очереди: %v", err)
	}
	objs, _ := f.gate.ListPending(ctx, 10)
	if len(objs) != 1 {
		t.Errorf("объект не доступен в pull-режиме: %v", objs)
	}
}
