// Package country はISO 3166-1 alpha-2の国カタログを提供する。
// カタログはバイナリに埋め込まれ、トグル対象の国コード検証と
// 国一覧APIの応答に使用される。
package country

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed countries.json
var catalogFS embed.FS

// Country は国カタログの1エントリ。
type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var (
	countries []Country
	byCode    map[string]Country
)

func init() {
	data, err := catalogFS.ReadFile("countries.json")
	if err != nil {
		panic(fmt.Sprintf("country: failed to read embedded catalog: %v", err))
	}
	if err := json.Unmarshal(data, &countries); err != nil {
		panic(fmt.Sprintf("country: failed to parse embedded catalog: %v", err))
	}

	byCode = make(map[string]Country, len(countries))
	for _, c := range countries {
		byCode[c.Code] = c
	}
}

// All は全エントリをコード昇順で返す。返り値のスライスは変更しないこと。
func All() []Country {
	return countries
}

// Exists は正規化済みの国コードがカタログに存在するかを返す。
func Exists(code string) bool {
	_, ok := byCode[code]
	return ok
}

// Name は国コードに対応する国名を返す。存在しない場合は空文字とfalseを返す。
func Name(code string) (string, bool) {
	c, ok := byCode[code]
	if !ok {
		return "", false
	}
	return c.Name, true
}

// Normalize は国コードを比較可能な形式（前後空白除去・大文字）に正規化する。
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
