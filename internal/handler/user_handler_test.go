package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matgal21/app-paises-visitados/internal/model"
)

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	updateProfileFn func(ctx context.Context, userID, displayName string) (*model.User, error)
	withdrawFn      func(ctx context.Context, userID string) error
}

func (m *mockUserService) UpdateProfile(ctx context.Context, userID, displayName string) (*model.User, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, userID, displayName)
	}
	user := testUser()
	user.DisplayName = displayName
	return user, nil
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

// --- PATCH /api/users/me テスト ---

func TestUserHandler_UpdateProfile_Success(t *testing.T) {
	svc := &mockUserService{
		updateProfileFn: func(ctx context.Context, userID, displayName string) (*model.User, error) {
			if userID != "user-123" {
				t.Errorf("userID = %q, want %q", userID, "user-123")
			}
			if displayName != "新しい名前" {
				t.Errorf("displayName = %q, want %q", displayName, "新しい名前")
			}
			user := testUser()
			user.DisplayName = displayName
			return user, nil
		},
	}
	h := NewUserHandler(svc, testAuthConfig())

	body := `{"display_name": "新しい名前"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/users/me", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.UpdateProfile(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var result userResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.DisplayName != "新しい名前" {
		t.Errorf("display_name = %q, want %q", result.DisplayName, "新しい名前")
	}
}

func TestUserHandler_UpdateProfile_InvalidDisplayName_ReturnsUnprocessableEntity(t *testing.T) {
	svc := &mockUserService{
		updateProfileFn: func(ctx context.Context, userID, displayName string) (*model.User, error) {
			return nil, model.NewInvalidDisplayNameError("空の表示名は使用できません")
		},
	}
	h := NewUserHandler(svc, testAuthConfig())

	body := `{"display_name": ""}`
	req := httptest.NewRequest(http.MethodPatch, "/api/users/me", bytes.NewBufferString(body))
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.UpdateProfile(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}

	errResp := parseAPIErrorResponse(t, w)
	if errResp["code"] != model.ErrCodeInvalidDisplayName {
		t.Errorf("code = %q, want %q", errResp["code"], model.ErrCodeInvalidDisplayName)
	}
}

func TestUserHandler_UpdateProfile_UserNotFound_ReturnsNotFound(t *testing.T) {
	svc := &mockUserService{
		updateProfileFn: func(ctx context.Context, userID, displayName string) (*model.User, error) {
			return nil, model.NewUserNotFoundError()
		},
	}
	h := NewUserHandler(svc, testAuthConfig())

	body := `{"display_name": "taro"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/users/me", bytes.NewBufferString(body))
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.UpdateProfile(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestUserHandler_UpdateProfile_NoUserID_ReturnsUnauthorized(t *testing.T) {
	updateCalled := false
	svc := &mockUserService{
		updateProfileFn: func(ctx context.Context, userID, displayName string) (*model.User, error) {
			updateCalled = true
			return nil, nil
		},
	}
	h := NewUserHandler(svc, testAuthConfig())

	body := `{"display_name": "taro"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/users/me", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.UpdateProfile(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if updateCalled {
		t.Error("expected UpdateProfile not to be called for unauthenticated request")
	}
}

func TestUserHandler_UpdateProfile_InvalidJSON_ReturnsBadRequest(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodPatch, "/api/users/me", bytes.NewBufferString(`{broken`))
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.UpdateProfile(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

// --- DELETE /api/users/me テスト ---

func TestUserHandler_Withdraw_Success_ClearsSessionCookie(t *testing.T) {
	var gotUserID string
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) error {
			gotUserID = userID
			return nil
		},
	}
	h := NewUserHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodDelete, "/api/users/me", nil)
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.Withdraw(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if gotUserID != "user-123" {
		t.Errorf("userID = %q, want %q", gotUserID, "user-123")
	}

	// 退会後はセッションCookieもクリアされること
	cookie := findCookie(resp, "session_id")
	if cookie == nil {
		t.Fatal("expected session_id cookie in response")
	}
	if cookie.MaxAge != -1 {
		t.Errorf("cookie MaxAge = %d, want -1 (cookie should be cleared)", cookie.MaxAge)
	}
}

func TestUserHandler_Withdraw_NoUserID_ReturnsUnauthorized(t *testing.T) {
	withdrawCalled := false
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) error {
			withdrawCalled = true
			return nil
		},
	}
	h := NewUserHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodDelete, "/api/users/me", nil)
	w := httptest.NewRecorder()

	h.Withdraw(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if withdrawCalled {
		t.Error("expected Withdraw not to be called for unauthenticated request")
	}
}

func TestUserHandler_Withdraw_ServiceError_ReturnsInternalServerError(t *testing.T) {
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) error {
			return errors.New("delete failed")
		},
	}
	h := NewUserHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodDelete, "/api/users/me", nil)
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.Withdraw(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
}

func TestUserHandler_Withdraw_ConnectivityError_ReturnsServiceUnavailable(t *testing.T) {
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) error {
			return connectivityError()
		},
	}
	h := NewUserHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodDelete, "/api/users/me", nil)
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.Withdraw(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

// --- ルーティングテスト ---

func TestSetupUserRoutes_AllEndpoints(t *testing.T) {
	router := SetupUserRoutes(&mockUserService{}, testAuthConfig())

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPatch, "/api/users/me", `{"display_name": "taro"}`},
		{http.MethodDelete, "/api/users/me", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			req = withUserID(req, "user-123")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Result().StatusCode == http.StatusNotFound {
				t.Errorf("%s %s returned 404, route not registered", tt.method, tt.path)
			}
		})
	}
}
