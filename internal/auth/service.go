// Package auth はメール/パスワード認証とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/matgal21/app-paises-visitados/internal/mailer"
	"github.com/matgal21/app-paises-visitados/internal/model"
	"github.com/matgal21/app-paises-visitados/internal/repository"
)

// welcomeTemplateID は登録時に送信するウェルカムメールのテンプレートID。
const welcomeTemplateID = "welcome-email"

// attemptCacheSize はログイン試行回数キャッシュの最大エントリ数。
const attemptCacheSize = 100

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	Enabled       bool          // メール/パスワード認証が有効か（AUTH_EMAIL_ENABLED）
	SessionMaxAge int           // セッション有効期間（秒）
	MaxAttempts   int           // 同一メールアドレスのログイン試行上限
	AttemptWindow time.Duration // 試行回数がリセットされるまでの期間
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	mailer      mailer.Mailer
	validate    *validator.Validate
	attempts    gcache.Cache
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	m mailer.Mailer,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		mailer:      m,
		validate:    validator.New(),
		attempts:    gcache.New(attemptCacheSize).LRU().Expiration(config.AttemptWindow).Build(),
		config:      config,
	}
}

// Register はメール/パスワードで新規ユーザーを登録し、セッションを発行する。
// 表示名が空の場合はメールアドレスのローカル部を使用する。
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*model.User, *model.Session, error) {
	if !s.config.Enabled {
		return nil, nil, model.NewAuthError(model.ErrCodeAuthNotConfigured)
	}

	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, nil, model.NewAuthError(model.ErrCodeAuthInvalidEmail)
	}

	if err := ValidatePassword(password); err != nil {
		return nil, nil, err
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, nil, model.NewAuthError(model.ErrCodeAuthEmailInUse)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = localPart(email)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.mailer.SendMailAsync(user.Email, welcomeTemplateID, map[string]any{
		"NAME": user.DisplayName,
		"MAIL": user.Email,
	}, "register")

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("new user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, session, nil
}

// Login はメール/パスワードを検証し、セッションを発行する。
// 同一メールアドレスで連続して失敗するとAttemptWindowの間ロックされる。
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, *model.Session, error) {
	if !s.config.Enabled {
		return nil, nil, model.NewAuthError(model.ErrCodeAuthNotConfigured)
	}

	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, nil, model.NewAuthError(model.ErrCodeAuthInvalidEmail)
	}

	if attempts, err := s.attempts.Get(email); err == nil {
		if attempts.(int) >= s.config.MaxAttempts {
			slog.Warn("login attempt limit exceeded", slog.String("email", email))
			return nil, nil, model.NewAuthError(model.ErrCodeAuthTooManyAttempts)
		}
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		s.recordFailedAttempt(email)
		return nil, nil, model.NewAuthError(model.ErrCodeAuthUserNotFound)
	}

	match, err := ComparePassword(password, user.PasswordHash)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compare password: %w", err)
	}
	if !match {
		s.recordFailedAttempt(email)
		return nil, nil, model.NewAuthError(model.ErrCodeAuthWrongPassword)
	}

	s.attempts.Remove(email)

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))

	return user, session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// recordFailedAttempt はログイン失敗回数を加算する。
func (s *Service) recordFailedAttempt(email string) {
	current := 1
	if v, err := s.attempts.Get(email); err == nil {
		current = v.(int) + 1
	}
	if err := s.attempts.Set(email, current); err != nil {
		slog.Warn("failed to record login attempt", slog.Any("error", err))
	}
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// localPart はメールアドレスの@より前の部分を返す。
func localPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
