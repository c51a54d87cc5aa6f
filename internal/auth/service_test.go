package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matgal21/app-paises-visitados/internal/mailer"
	"github.com/matgal21/app-paises-visitados/internal/model"
	"github.com/matgal21/app-paises-visitados/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn    func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	createFn      func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) UpdateDisplayName(_ context.Context, _, _ string) error {
	return nil
}

func (m *mockUserRepo) DeleteByID(_ context.Context, _ string) error {
	return nil
}

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

type mockMailer struct {
	sentTo       []string
	sentTemplate []string
}

func (m *mockMailer) SendMail(to string, templateID string, data map[string]any) error {
	m.sentTo = append(m.sentTo, to)
	m.sentTemplate = append(m.sentTemplate, templateID)
	return nil
}

func (m *mockMailer) SendMailAsync(to string, templateID string, data map[string]any, operationName string) {
	m.sentTo = append(m.sentTo, to)
	m.sentTemplate = append(m.sentTemplate, templateID)
}

var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ mailer.Mailer = (*mockMailer)(nil)

// testConfig はテスト用のデフォルト設定を返す。
func testConfig() ServiceConfig {
	return ServiceConfig{
		Enabled:       true,
		SessionMaxAge: 86400,
		MaxAttempts:   5,
		AttemptWindow: 15 * time.Minute,
	}
}

// assertAuthCode はエラーが指定コードのAPIErrorであることを検証する。
func assertAuthCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %q, want %q", apiErr.Code, code)
	}
}

// --- テスト ---

func TestRegister_NewUser_CreatesUserAndSession(t *testing.T) {
	ctx := context.Background()

	var createdUser *model.User
	var createdSession *model.Session

	userRepo := &mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			createdUser = user
			return nil
		},
	}
	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			createdSession = session
			return nil
		},
	}
	m := &mockMailer{}

	svc := NewService(userRepo, sessionRepo, m, testConfig())

	user, session, err := svc.Register(ctx, "test@example.com", "correct-horse", "Test User")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// ユーザーが作成されること
	if createdUser == nil {
		t.Fatal("expected user to be created")
	}
	if createdUser.Email != "test@example.com" {
		t.Errorf("user email = %q, want %q", createdUser.Email, "test@example.com")
	}
	if createdUser.DisplayName != "Test User" {
		t.Errorf("user displayName = %q, want %q", createdUser.DisplayName, "Test User")
	}

	// パスワードはArgon2idハッシュで保存されること
	if user.PasswordHash == "correct-horse" {
		t.Error("password must not be stored in plain text")
	}
	match, err := ComparePassword("correct-horse", user.PasswordHash)
	if err != nil {
		t.Fatalf("ComparePassword() error = %v", err)
	}
	if !match {
		t.Error("stored hash does not match original password")
	}

	// セッションが作成されること
	if createdSession == nil {
		t.Fatal("expected session to be created")
	}
	if createdSession.UserID != createdUser.ID {
		t.Errorf("session userID = %q, want %q", createdSession.UserID, createdUser.ID)
	}
	if session.ExpiresAt.Before(time.Now()) {
		t.Error("session should not be expired")
	}

	// ウェルカムメールが送信されること
	if len(m.sentTo) != 1 || m.sentTo[0] != "test@example.com" {
		t.Errorf("welcome mail sent to %v, want [test@example.com]", m.sentTo)
	}
}

func TestRegister_EmptyDisplayName_DefaultsToLocalPart(t *testing.T) {
	ctx := context.Background()

	var createdUser *model.User
	userRepo := &mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			createdUser = user
			return nil
		},
	}

	svc := NewService(userRepo, &mockSessionRepo{}, &mockMailer{}, testConfig())

	_, _, err := svc.Register(ctx, "viajante@example.com", "long-enough-pw", "")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if createdUser.DisplayName != "viajante" {
		t.Errorf("displayName = %q, want %q", createdUser.DisplayName, "viajante")
	}
}

func TestRegister_AuthDisabled_ReturnsNotConfigured(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.Enabled = false
	svc := NewService(nil, nil, &mockMailer{}, cfg)

	_, _, err := svc.Register(ctx, "test@example.com", "long-enough-pw", "")
	assertAuthCode(t, err, model.ErrCodeAuthNotConfigured)
}

func TestRegister_InvalidEmail_ReturnsError(t *testing.T) {
	ctx := context.Background()

	svc := NewService(nil, nil, &mockMailer{}, testConfig())

	for _, email := range []string{"", "not-an-email", "missing@tld@twice"} {
		_, _, err := svc.Register(ctx, email, "long-enough-pw", "")
		assertAuthCode(t, err, model.ErrCodeAuthInvalidEmail)
	}
}

func TestRegister_ShortPassword_ReturnsWeakPassword(t *testing.T) {
	ctx := context.Background()

	svc := NewService(nil, nil, &mockMailer{}, testConfig())

	_, _, err := svc.Register(ctx, "test@example.com", "short", "")
	assertAuthCode(t, err, model.ErrCodeAuthWeakPassword)
}

func TestRegister_DuplicateEmail_ReturnsEmailInUse(t *testing.T) {
	ctx := context.Background()

	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "existing-user", Email: email}, nil
		},
	}

	svc := NewService(userRepo, nil, &mockMailer{}, testConfig())

	_, _, err := svc.Register(ctx, "taken@example.com", "long-enough-pw", "")
	assertAuthCode(t, err, model.ErrCodeAuthEmailInUse)
}

func TestLogin_ValidCredentials_ReturnsUserAndSession(t *testing.T) {
	ctx := context.Background()

	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{
				ID:           "user-1",
				Email:        email,
				DisplayName:  "Test User",
				PasswordHash: hash,
			}, nil
		},
	}

	var createdSession *model.Session
	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			createdSession = session
			return nil
		},
	}

	svc := NewService(userRepo, sessionRepo, &mockMailer{}, testConfig())

	user, session, err := svc.Login(ctx, "test@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if user.ID != "user-1" {
		t.Errorf("user ID = %q, want %q", user.ID, "user-1")
	}
	if session == nil || session.ID == "" {
		t.Fatal("expected non-empty session")
	}
	if createdSession == nil || createdSession.UserID != "user-1" {
		t.Error("expected session persisted for user-1")
	}
}

func TestLogin_UnknownEmail_ReturnsUserNotFound(t *testing.T) {
	ctx := context.Background()

	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return nil, nil
		},
	}

	svc := NewService(userRepo, nil, &mockMailer{}, testConfig())

	_, _, err := svc.Login(ctx, "unknown@example.com", "whatever-pw")
	assertAuthCode(t, err, model.ErrCodeAuthUserNotFound)
}

func TestLogin_WrongPassword_ReturnsWrongPassword(t *testing.T) {
	ctx := context.Background()

	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "user-1", Email: email, PasswordHash: hash}, nil
		},
	}

	svc := NewService(userRepo, nil, &mockMailer{}, testConfig())

	_, _, err = svc.Login(ctx, "test@example.com", "wrong-password")
	assertAuthCode(t, err, model.ErrCodeAuthWrongPassword)
}

func TestLogin_TooManyFailedAttempts_LocksOut(t *testing.T) {
	ctx := context.Background()

	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "user-1", Email: email, PasswordHash: hash}, nil
		},
	}

	cfg := testConfig()
	cfg.MaxAttempts = 3
	svc := NewService(userRepo, nil, &mockMailer{}, cfg)

	// 上限まで失敗
	for i := 0; i < cfg.MaxAttempts; i++ {
		_, _, err := svc.Login(ctx, "test@example.com", "wrong-password")
		assertAuthCode(t, err, model.ErrCodeAuthWrongPassword)
	}

	// ロックアウト後は正しいパスワードでも拒否される
	_, _, err = svc.Login(ctx, "test@example.com", "correct-horse")
	assertAuthCode(t, err, model.ErrCodeAuthTooManyAttempts)
}

func TestLogin_SuccessResetsFailedAttempts(t *testing.T) {
	ctx := context.Background()

	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "user-1", Email: email, PasswordHash: hash}, nil
		},
	}

	cfg := testConfig()
	cfg.MaxAttempts = 3
	svc := NewService(userRepo, &mockSessionRepo{}, &mockMailer{}, cfg)

	// 2回失敗した後に成功
	for i := 0; i < 2; i++ {
		svc.Login(ctx, "test@example.com", "wrong-password")
	}
	if _, _, err := svc.Login(ctx, "test@example.com", "correct-horse"); err != nil {
		t.Fatalf("Login() after 2 failures error = %v", err)
	}

	// カウンタがリセットされ、再び失敗してもすぐにはロックされない
	_, _, err = svc.Login(ctx, "test@example.com", "wrong-password")
	assertAuthCode(t, err, model.ErrCodeAuthWrongPassword)
}

func TestLogin_AuthDisabled_ReturnsNotConfigured(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.Enabled = false
	svc := NewService(nil, nil, &mockMailer{}, cfg)

	_, _, err := svc.Login(ctx, "test@example.com", "whatever-pw")
	assertAuthCode(t, err, model.ErrCodeAuthNotConfigured)
}

func TestLogout_DeletesSession(t *testing.T) {
	ctx := context.Background()

	var deletedSessionID string

	sessionRepo := &mockSessionRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			deletedSessionID = id
			return nil
		},
	}

	svc := NewService(nil, sessionRepo, &mockMailer{}, testConfig())

	err := svc.Logout(ctx, "session-to-delete")
	if err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if deletedSessionID != "session-to-delete" {
		t.Errorf("deleted session ID = %q, want %q", deletedSessionID, "session-to-delete")
	}
}

func TestLogout_EmptySessionID_ReturnsError(t *testing.T) {
	ctx := context.Background()

	svc := NewService(nil, nil, &mockMailer{}, testConfig())

	err := svc.Logout(ctx, "")
	if err == nil {
		t.Fatal("expected error for empty session ID")
	}
}

func TestGetCurrentUser_ValidSession_ReturnsUser(t *testing.T) {
	ctx := context.Background()

	userID := "user-id-123"

	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{
				ID:        "session-valid",
				UserID:    userID,
				ExpiresAt: time.Now().Add(1 * time.Hour),
			}, nil
		},
	}

	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{
				ID:          userID,
				Email:       "user@example.com",
				DisplayName: "Test User",
			}, nil
		},
	}

	svc := NewService(userRepo, sessionRepo, &mockMailer{}, testConfig())

	user, err := svc.GetCurrentUser(ctx, "session-valid")
	if err != nil {
		t.Fatalf("GetCurrentUser() error = %v", err)
	}

	if user == nil {
		t.Fatal("expected non-nil user")
	}
	if user.ID != userID {
		t.Errorf("user ID = %q, want %q", user.ID, userID)
	}
}

func TestGetCurrentUser_ExpiredSession_ReturnsError(t *testing.T) {
	ctx := context.Background()

	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			// 期限切れセッション -> リポジトリはnilを返す
			return nil, nil
		},
	}

	svc := NewService(nil, sessionRepo, &mockMailer{}, testConfig())

	_, err := svc.GetCurrentUser(ctx, "expired-session")
	if err == nil {
		t.Fatal("expected error for expired session")
	}
}

func TestGetCurrentUser_EmptySessionID_ReturnsError(t *testing.T) {
	ctx := context.Background()

	svc := NewService(nil, nil, &mockMailer{}, testConfig())

	_, err := svc.GetCurrentUser(ctx, "")
	if err == nil {
		t.Fatal("expected error for empty session ID")
	}
}
