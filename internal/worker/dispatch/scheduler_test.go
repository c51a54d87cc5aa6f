package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matgal21/app-paises-visitados/internal/model"
)

// mockDispatcherService はDeliveryDispatcherServiceのテスト用モック。
type mockDispatcherService struct {
	dispatchFunc func(ctx context.Context, delivery *model.WebhookDelivery) error
}

func (m *mockDispatcherService) Dispatch(ctx context.Context, delivery *model.WebhookDelivery) error {
	if m.dispatchFunc != nil {
		return m.dispatchFunc(ctx, delivery)
	}
	return nil
}

func pendingDeliveries(n int) []*model.WebhookDelivery {
	deliveries := make([]*model.WebhookDelivery, n)
	for i := range deliveries {
		deliveries[i] = &model.WebhookDelivery{
			ID:      fmt.Sprintf("delivery-%d", i+1),
			UserID:  "user-1",
			Payload: []byte(`{}`),
			Status:  model.DeliveryStatusPending,
		}
	}
	return deliveries
}

func TestNewScheduler_ReturnsNonNil(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	s := NewScheduler(newMockDeliveryRepo(), &mockDispatcherService{}, logger, 10)
	if s == nil {
		t.Fatal("NewScheduler は nil を返してはならない")
	}
}

func TestNewScheduler_SetsMaxConcurrency(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	s := NewScheduler(newMockDeliveryRepo(), &mockDispatcherService{}, logger, 5)
	if s.maxConcurrency != 5 {
		t.Errorf("maxConcurrency = %d, want 5", s.maxConcurrency)
	}
}

func TestNewScheduler_DefaultConcurrency(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	// 0以下の場合はデフォルトの10を使用する
	s := NewScheduler(newMockDeliveryRepo(), &mockDispatcherService{}, logger, 0)
	if s.maxConcurrency != 10 {
		t.Errorf("maxConcurrency = %d, want 10 (default)", s.maxConcurrency)
	}
}

func TestScheduler_RunOnce_DispatchesDueDeliveries(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	var dispatchedIDs []string
	var mu sync.Mutex

	repo := newMockDeliveryRepo()
	repo.claimDueFunc = func(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error) {
		return pendingDeliveries(2), nil
	}

	dispatcher := &mockDispatcherService{
		dispatchFunc: func(ctx context.Context, delivery *model.WebhookDelivery) error {
			mu.Lock()
			dispatchedIDs = append(dispatchedIDs, delivery.ID)
			mu.Unlock()
			return nil
		},
	}

	s := NewScheduler(repo, dispatcher, logger, 10)
	err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}

	if len(dispatchedIDs) != 2 {
		t.Errorf("配信された配送数 = %d, want 2", len(dispatchedIDs))
	}
}

func TestScheduler_RunOnce_NoDueDeliveries(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	repo := newMockDeliveryRepo()
	repo.claimDueFunc = func(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error) {
		return nil, nil
	}

	dispatcher := &mockDispatcherService{}

	s := NewScheduler(repo, dispatcher, logger, 10)
	err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}
}

func TestScheduler_RunOnce_RepoError(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	repo := newMockDeliveryRepo()
	repo.claimDueFunc = func(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error) {
		return nil, errors.New("db connection failed")
	}

	s := NewScheduler(repo, &mockDispatcherService{}, logger, 10)
	err := s.RunOnce(context.Background())
	if err == nil {
		t.Fatal("RunOnce() はリポジトリエラー時にエラーを返すべき")
	}
}

func TestScheduler_RunOnce_ConcurrencyLimit(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	var maxConcurrent int32
	var currentConcurrent int32
	var dispatchCount int32

	// 20件の配送を用意し、最大並列数を3に制限
	repo := newMockDeliveryRepo()
	repo.claimDueFunc = func(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error) {
		return pendingDeliveries(20), nil
	}

	dispatcher := &mockDispatcherService{
		dispatchFunc: func(ctx context.Context, delivery *model.WebhookDelivery) error {
			current := atomic.AddInt32(&currentConcurrent, 1)
			defer atomic.AddInt32(&currentConcurrent, -1)
			atomic.AddInt32(&dispatchCount, 1)

			// 最大同時実行数を記録
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if current <= old {
					break
				}
				if atomic.CompareAndSwapInt32(&maxConcurrent, old, current) {
					break
				}
			}

			// 少し待つことで並列実行を促す
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}

	s := NewScheduler(repo, dispatcher, logger, 3)
	err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}

	if atomic.LoadInt32(&dispatchCount) != 20 {
		t.Errorf("配信回数 = %d, want 20", atomic.LoadInt32(&dispatchCount))
	}

	if atomic.LoadInt32(&maxConcurrent) > 3 {
		t.Errorf("最大同時実行数 = %d, 3以下であるべき", atomic.LoadInt32(&maxConcurrent))
	}
}

func TestScheduler_RunOnce_DispatchErrorDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	var dispatchCount int32

	repo := newMockDeliveryRepo()
	repo.claimDueFunc = func(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error) {
		return pendingDeliveries(3), nil
	}

	dispatcher := &mockDispatcherService{
		dispatchFunc: func(ctx context.Context, delivery *model.WebhookDelivery) error {
			atomic.AddInt32(&dispatchCount, 1)
			if delivery.ID == "delivery-2" {
				return errors.New("dispatch failed")
			}
			return nil
		},
	}

	s := NewScheduler(repo, dispatcher, logger, 10)
	// 個別配送のエラーはRunOnceのエラーとはならない
	err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() は個別配送エラーでもエラーを返さないべき: %v", err)
	}

	if atomic.LoadInt32(&dispatchCount) != 3 {
		t.Errorf("全配送が試行されるべき: got %d, want 3", atomic.LoadInt32(&dispatchCount))
	}
}

func TestScheduler_RunOnce_LogsDispatchError(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	repo := newMockDeliveryRepo()
	repo.claimDueFunc = func(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error) {
		return pendingDeliveries(1), nil
	}

	dispatcher := &mockDispatcherService{
		dispatchFunc: func(ctx context.Context, delivery *model.WebhookDelivery) error {
			return errors.New("timeout")
		},
	}

	s := NewScheduler(repo, dispatcher, logger, 10)
	_ = s.RunOnce(context.Background())

	// エラーログが出力されていること
	logOutput := buf.String()
	if !strings.Contains(logOutput, "ERROR") {
		t.Errorf("配信エラー時にERRORレベルのログが記録されていない: %s", logOutput)
	}
}

func TestScheduler_RunOnce_LogsDeliveryCount(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	repo := newMockDeliveryRepo()
	repo.claimDueFunc = func(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error) {
		return pendingDeliveries(2), nil
	}

	dispatcher := &mockDispatcherService{}

	s := NewScheduler(repo, dispatcher, logger, 10)
	_ = s.RunOnce(context.Background())

	// ログに配信対象数が記録されていること
	var entry map[string]interface{}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	found := false
	for _, line := range lines {
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if count, ok := entry["delivery_count"]; ok {
			if count == float64(2) {
				found = true
				break
			}
		}
	}
	if !found {
		t.Errorf("ログに delivery_count=2 が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestScheduler_RunOnce_RespectsContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // 即座にキャンセル

	repo := newMockDeliveryRepo()
	repo.claimDueFunc = func(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error) {
		return nil, ctx.Err()
	}

	s := NewScheduler(repo, &mockDispatcherService{}, logger, 10)
	err := s.RunOnce(ctx)

	// キャンセル済みコンテキストではエラーが返る
	if err == nil {
		t.Fatal("キャンセル済みコンテキストではエラーが返るべき")
	}
}
