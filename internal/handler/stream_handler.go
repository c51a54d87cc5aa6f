package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/matgal21/app-paises-visitados/internal/metrics"
	"github.com/matgal21/app-paises-visitados/internal/middleware"
	"github.com/matgal21/app-paises-visitados/internal/model"
	"github.com/matgal21/app-paises-visitados/internal/realtime"
	"github.com/oklog/ulid/v2"
)

// defaultHeartbeat はハートビート間隔が未指定の場合の既定値。
const defaultHeartbeat = 30 * time.Second

// StreamSnapshotService はSSE接続開始時のスナップショット取得インターフェース。
type StreamSnapshotService interface {
	Get(ctx context.Context, userID string) (*model.VisitedSet, error)
}

// StreamHandler は訪問国変更のSSEストリーミングハンドラー。
type StreamHandler struct {
	service   StreamSnapshotService
	hub       *realtime.Hub
	collector metrics.MetricsCollector
	heartbeat time.Duration
}

// NewStreamHandler はStreamHandlerを生成する。
// heartbeatが0以下の場合は既定値を、collectorがnilの場合は何も記録しないコレクターを使用する。
func NewStreamHandler(service StreamSnapshotService, hub *realtime.Hub, collector metrics.MetricsCollector, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	if collector == nil {
		collector = metrics.Noop
	}
	return &StreamHandler{
		service:   service,
		hub:       hub,
		collector: collector,
		heartbeat: heartbeat,
	}
}

// Stream は訪問国セットの変更をSSEで配信する。
// GET /api/visited/stream
//
// 接続開始時に現在のセットをsnapshotイベントとして送信し、以降の変更を
// changeイベントとして配信する。Last-Event-IDヘッダー付きの再接続では
// 切断中に発行されたイベントを再送する。各イベントは変更後の全配列を
// 含むため、スナップショットと重複して届いても結果は変わらない。
// クライアント切断はcontextのキャンセルで検知し、購読を解除する。
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewStreamingUnsupportedError())
		return
	}

	// スナップショット取得前に購読を開始し、取得とイベント発行の間の変更を取りこぼさない
	sub := h.hub.Subscribe(userID, r.Header.Get("Last-Event-ID"))
	defer sub.Close()

	set, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	h.collector.RecordStreamConnected()
	defer h.collector.RecordStreamDisconnected()

	slog.Info("SSEストリームを開始しました",
		slog.String("user_id", userID),
		slog.Int("replay_count", len(sub.Replay)),
	)

	snapshot := model.VisitedChange{
		EventID:      ulid.Make().String(),
		UserID:       userID,
		Kind:         model.ChangeKindSnapshot,
		CountryCodes: set.CountryCodes,
		OccurredAt:   time.Now().UTC(),
	}
	if err := writeSSEEvent(w, "snapshot", snapshot); err != nil {
		return
	}
	for _, c := range sub.Replay {
		if err := writeSSEEvent(w, "change", c); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("SSEストリームを終了しました", slog.String("user_id", userID))
			return
		case change, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, "change", change); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			// 中継プロキシによるアイドル切断を防ぐコメント行
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent はSSEイベントを1件書き込む。
// idフィールドにはイベントIDを設定し、クライアントの再接続時に
// Last-Event-IDヘッダーとして送り返される。
func writeSSEEvent(w io.Writer, event string, change model.VisitedChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", change.EventID, event, data)
	return err
}
