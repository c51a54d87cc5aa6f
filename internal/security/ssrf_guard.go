// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrURLBlocked はURLがSSRF防止の対象として拒否されたことを示す。
// スキーム不正などの形式エラーと区別するためのセンチネルエラー。
var ErrURLBlocked = errors.New("URL blocked by SSRF protection")

// SSRFGuardService はWebhook配信先URLのSSRF防止を担う。
// 登録時はValidateURLで静的に検証し、配信時はNewSafeClientが
// 生成するクライアントがDNS解決後のIPを検証する。
type SSRFGuardService interface {
	// NewSafeClient は内部ネットワーク宛の接続を遮断するHTTPクライアントを生成する。
	// 接続先IPはダイヤル直前に検証されるため、DNS再バインディング攻撃にも耐える。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はURLがWebhook配信先として安全かを静的に検証する。
	ValidateURL(rawURL string) error
}

// allowedSchemes はSSRF防止で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedPrefixes はWebhook配信先として拒否するネットワーク範囲。
// ValidateURLの静的検証で使用する。DNS解決後のIPアドレスは
// safeurlがnet.DialerのControlフックで検証するため、
// DNS再バインディング攻撃はクライアント側で防止される。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),     // プライベート (RFC 1918)
	netip.MustParsePrefix("172.16.0.0/12"),  // プライベート (RFC 1918)
	netip.MustParsePrefix("192.168.0.0/16"), // プライベート (RFC 1918)
	netip.MustParsePrefix("127.0.0.0/8"),    // ループバック (RFC 1122)
	netip.MustParsePrefix("169.254.0.0/16"), // リンクローカル（クラウドメタデータIP 169.254.169.254 を含む）
	netip.MustParsePrefix("100.64.0.0/10"),  // キャリアグレードNAT (RFC 6598)
	netip.MustParsePrefix("0.0.0.0/8"),      // カレントネットワーク
	netip.MustParsePrefix("::1/128"),        // IPv6ループバック
	netip.MustParsePrefix("fe80::/10"),      // IPv6リンクローカル
	netip.MustParsePrefix("fc00::/7"),       // IPv6ユニークローカル
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct{}

var _ SSRFGuardService = (*ssrfGuard)(nil)

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient は内部ネットワーク宛の接続を遮断するHTTPクライアントを生成する。
// safeurlのデフォルト設定でプライベートIP・ループバック・リンクローカル・
// メタデータIPへの接続が拒否される。レスポンスサイズの上限は
// 呼び出し側がio.LimitReaderで適用する。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はURLの安全性を事前に検証する。
// DNS解決を伴わない静的な検証のみを行い、Webhook登録時に
// URLを保存する前の事前チェックとして使用する。
// ブロック対象のIP・ホストに対してはErrURLBlockedをラップしたエラーを返し、
// 形式不正（スキーム・空ホストなど）とは区別できる。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if !isAllowedScheme(parsed.Scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", parsed.Scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	// IPアドレス直指定の場合はブロック対象プレフィックスと照合する
	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: blocked IP address: %s", ErrURLBlocked, addr)
		}
		return nil
	}

	// localhostと.localhost TLD (RFC 6761) はループバックに解決されるため拒否する
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("%w: blocked host: %s", ErrURLBlocked, host)
	}

	return nil
}

// isAllowedScheme はURLスキームが許可リストに含まれるかを検証する。
func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isBlockedAddr はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
// ::ffff:127.0.0.1 のような4-in-6形式はIPv4に正規化した上で照合する。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
