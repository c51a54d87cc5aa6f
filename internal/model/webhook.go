// Package model はドメインモデルを定義する。
package model

import "time"

// Webhook はユーザーが登録した外部通知先を表す。
// 訪問国セットの変更ごとに、登録URLへ署名付きPOSTを配信する。
// 1ユーザーにつき1件のみ登録できる。
type Webhook struct {
	UserID    string
	URL       string
	Secret    string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeliveryStatus はWebhook配信の状態を表す。
type DeliveryStatus string

const (
	// DeliveryStatusPending は配信待ちの状態。
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusDelivered は配信成功の状態。
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	// DeliveryStatusFailed は再試行上限超過または恒久エラーによる失敗状態。
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// WebhookDelivery はWebhook配信のアウトボックス行を表す。
// 変更イベント発生時にpendingで作成され、ワーカーが非同期に配信する。
type WebhookDelivery struct {
	ID            string
	UserID        string
	Payload       []byte
	Status        DeliveryStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
