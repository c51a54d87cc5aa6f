// Package mailer はトランザクションメール送信を提供する。
package mailer

import (
	"log/slog"

	"github.com/resend/resend-go/v3"
)

// Mailer はメール送信のインターフェース。
type Mailer interface {
	// SendMail はテンプレートIDと変数を指定してメールを送信する。
	SendMail(to string, templateID string, data map[string]any) error
	// SendMailAsync はメールを非同期に送信する。失敗はログに記録するのみ。
	SendMailAsync(to string, templateID string, data map[string]any, operationName string)
}

type resendMailer struct {
	client *resend.Client
	from   string
}

// NewResendMailer はResendを使用するMailerを生成する。
func NewResendMailer(apiKey string, from string) Mailer {
	client := resend.NewClient(apiKey)
	return &resendMailer{client: client, from: from}
}

func (r *resendMailer) SendMail(to string, templateID string, data map[string]any) error {
	params := &resend.SendEmailRequest{
		From: r.from,
		To:   []string{to},
		Template: &resend.EmailTemplate{
			Id:        templateID,
			Variables: data,
		},
	}

	_, err := r.client.Emails.Send(params)
	return err
}

func (r *resendMailer) SendMailAsync(to string, templateID string, data map[string]any, operationName string) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic in email goroutine",
					slog.String("operation", operationName),
					slog.Any("panic", rec),
				)
			}
		}()

		if err := r.SendMail(to, templateID, data); err != nil {
			slog.Error("failed to send email",
				slog.String("operation", operationName),
				slog.String("to", to),
				slog.String("template", templateID),
				slog.Any("error", err),
			)
		}
	}()
}

type noopMailer struct{}

// NewNoopMailer はメールを送信しないMailerを生成する。
// RESEND_API_KEYが未設定の環境（ローカル開発等）で使用される。
func NewNoopMailer() Mailer {
	return &noopMailer{}
}

func (n *noopMailer) SendMail(to string, templateID string, data map[string]any) error {
	slog.Debug("mail sending skipped (noop mailer)",
		slog.String("to", to),
		slog.String("template", templateID),
	)
	return nil
}

func (n *noopMailer) SendMailAsync(to string, templateID string, data map[string]any, operationName string) {
	slog.Debug("async mail sending skipped (noop mailer)",
		slog.String("to", to),
		slog.String("operation", operationName),
	)
}

var (
	_ Mailer = (*resendMailer)(nil)
	_ Mailer = (*noopMailer)(nil)
)
