// Package realtime は訪問国変更イベントのインプロセス配信を提供する。
// SSEハンドラーがユーザーごとのイベントストリームを購読し、
// 訪問国サービスが変更を発行する。
package realtime

import (
	"log/slog"
	"sync"

	"github.com/matgal21/app-paises-visitados/internal/model"
)

// subscriberBuffer は購読者チャネルのバッファサイズ。
// 受信が追いつかない購読者への送信はドロップされる（スナップショット再取得で回復可能）。
const subscriberBuffer = 16

// Hub はユーザーごとの購読者と直近イベントのリプレイバッファを管理する。
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan model.VisitedChange]struct{}
	recent      map[string][]model.VisitedChange
	replaySize  int
}

// Subscription は1つのSSE接続に対応する購読。
type Subscription struct {
	// Events は変更イベントの受信チャネル。Closeで閉じられる。
	Events <-chan model.VisitedChange
	// Replay はLast-Event-ID以降に発行済みの取りこぼしイベント。
	Replay []model.VisitedChange

	hub    *Hub
	userID string
	ch     chan model.VisitedChange
	once   sync.Once
}

// NewHub はHubを生成する。replaySizeはユーザーごとに保持する直近イベント数。
func NewHub(replaySize int) *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan model.VisitedChange]struct{}),
		recent:      make(map[string][]model.VisitedChange),
		replaySize:  replaySize,
	}
}

// Publish は変更イベントを該当ユーザーの全購読者に配信する。
// バッファが満杯の購読者への送信はブロックせずドロップする。
func (h *Hub) Publish(change model.VisitedChange) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.appendRecent(change)

	for ch := range h.subscribers[change.UserID] {
		select {
		case ch <- change:
		default:
			slog.Debug("dropped change event for slow subscriber",
				slog.String("user_id", change.UserID),
				slog.String("event_id", change.EventID),
			)
		}
	}
}

// Subscribe は指定ユーザーのイベントストリームを購読する。
// lastEventIDが空でない場合、それより後に発行済みのイベントをReplayに含める。
// イベントIDはULIDのため辞書順比較が発行順比較と一致する。
func (h *Hub) Subscribe(userID, lastEventID string) *Subscription {
	ch := make(chan model.VisitedChange, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[chan model.VisitedChange]struct{})
	}
	h.subscribers[userID][ch] = struct{}{}

	var replay []model.VisitedChange
	if lastEventID != "" {
		for _, c := range h.recent[userID] {
			if c.EventID > lastEventID {
				replay = append(replay, c)
			}
		}
	}

	return &Subscription{
		Events: ch,
		Replay: replay,
		hub:    h,
		userID: userID,
		ch:     ch,
	}
}

// SubscriberCount は指定ユーザーの現在の購読者数を返す。
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}

// Close は購読を解除し、Eventsチャネルを閉じる。複数回呼んでも安全。
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()

		if subs := s.hub.subscribers[s.userID]; subs != nil {
			delete(subs, s.ch)
			if len(subs) == 0 {
				delete(s.hub.subscribers, s.userID)
			}
		}
		close(s.ch)
	})
}

// appendRecent は直近イベントバッファに追記する。呼び出し側で書き込みロックを保持していること。
func (h *Hub) appendRecent(change model.VisitedChange) {
	buf := append(h.recent[change.UserID], change)
	if len(buf) > h.replaySize {
		buf = buf[len(buf)-h.replaySize:]
	}
	h.recent[change.UserID] = buf
}
