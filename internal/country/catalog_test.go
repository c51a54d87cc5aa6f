package country

import (
	"sort"
	"testing"
)

// 埋め込みカタログが全249の正式割当コードを含むことを検証
func TestAll_ContainsFullCatalog(t *testing.T) {
	all := All()
	if len(all) != 249 {
		t.Errorf("len(All()) = %d, want 249", len(all))
	}
}

// カタログがコード昇順にソートされていることを検証
func TestAll_SortedByCode(t *testing.T) {
	all := All()
	sorted := sort.SliceIsSorted(all, func(i, j int) bool {
		return all[i].Code < all[j].Code
	})
	if !sorted {
		t.Error("expected catalog to be sorted by code")
	}
}

// 代表的な国コードの存在を検証
func TestExists_KnownCodes(t *testing.T) {
	for _, code := range []string{"JP", "BR", "US", "DE", "ZW"} {
		if !Exists(code) {
			t.Errorf("Exists(%q) = false, want true", code)
		}
	}
}

// 存在しないコードや小文字コードはfalseを返すことを検証
func TestExists_UnknownCodes(t *testing.T) {
	for _, code := range []string{"XX", "ZZ", "jp", "JPN", ""} {
		if Exists(code) {
			t.Errorf("Exists(%q) = true, want false", code)
		}
	}
}

// 国コードから国名を取得できることを検証
func TestName(t *testing.T) {
	name, ok := Name("JP")
	if !ok {
		t.Fatal("Name(JP) not found")
	}
	if name != "Japan" {
		t.Errorf("Name(JP) = %q, want %q", name, "Japan")
	}

	if _, ok := Name("XX"); ok {
		t.Error("Name(XX) = found, want not found")
	}
}

// 正規化が空白除去と大文字化を行うことを検証
func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"jp", "JP"},
		{" BR ", "BR"},
		{"De", "DE"},
		{"JP", "JP"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
