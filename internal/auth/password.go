package auth

import (
	"fmt"

	"github.com/alexedwards/argon2id"

	"github.com/matgal21/app-paises-visitados/internal/model"
)

// minPasswordLength は登録時に要求するパスワードの最小文字数。
const minPasswordLength = 8

// argon2idParams はArgon2idのOWASP最小推奨パラメータ。
// Memory: 47 MiB, Iterations: 1, Parallelism: 1
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashPassword はパスワードのArgon2idハッシュをPHC形式で返す。
// 形式: $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2idParams)
}

// ComparePassword はパスワードと保存済みハッシュを比較する。
// 不正なハッシュ形式によるpanicはエラーとして回収する。
func ComparePassword(password, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid password hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(password, storedHash)
}

// ValidatePassword はパスワード強度を検証する。
// 最小文字数を満たさない場合はAUTH_WEAK_PASSWORDを返す。
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return model.NewAuthError(model.ErrCodeAuthWeakPassword)
	}
	return nil
}
