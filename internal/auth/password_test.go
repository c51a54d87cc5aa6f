package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/matgal21/app-paises-visitados/internal/model"
)

// ハッシュがPHC形式（$argon2id$プレフィックス）であることを検証
func TestHashPassword_ProducesPHCFormat(t *testing.T) {
	hash, err := HashPassword("some-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("hash = %q, want $argon2id$ prefix", hash)
	}
}

// 同じパスワードでもソルトにより毎回異なるハッシュになることを検証
func TestHashPassword_DifferentSaltPerCall(t *testing.T) {
	h1, err := HashPassword("some-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	h2, err := HashPassword("some-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if h1 == h2 {
		t.Error("expected different hashes for same password")
	}
}

// 正しいパスワードが一致し、誤ったパスワードが一致しないことを検証
func TestComparePassword(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	match, err := ComparePassword("correct-horse", hash)
	if err != nil {
		t.Fatalf("ComparePassword() error = %v", err)
	}
	if !match {
		t.Error("expected correct password to match")
	}

	match, err = ComparePassword("battery-staple", hash)
	if err != nil {
		t.Fatalf("ComparePassword() error = %v", err)
	}
	if match {
		t.Error("expected wrong password not to match")
	}
}

// 不正なハッシュ形式ではエラーを返すことを検証
func TestComparePassword_InvalidHash_ReturnsError(t *testing.T) {
	match, err := ComparePassword("some-password", "not-a-valid-hash")
	if err == nil {
		t.Fatal("expected error for invalid hash format")
	}
	if match {
		t.Error("expected no match for invalid hash")
	}
}

// 最小文字数未満のパスワードがAUTH_WEAK_PASSWORDになることを検証
func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("12345678"); err != nil {
		t.Errorf("ValidatePassword(8 chars) = %v, want nil", err)
	}

	err := ValidatePassword("1234567")
	if err == nil {
		t.Fatal("expected error for 7-char password")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeAuthWeakPassword {
		t.Errorf("error code = %q, want %q", apiErr.Code, model.ErrCodeAuthWeakPassword)
	}
}
