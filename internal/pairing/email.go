package pairing

import (
	"net/mail"
	"strings"

	"golang.org/x/net/idna"

	"github.com/hitoshi/duoflow/internal/model"
)

// NormalizeEmail はメールアドレスを招待の照合に使う正規形に変換する。
// 前後の空白を除去し、ローカル部を小文字化、ドメインをIDNAのASCII形式に変換する。
// 形式が不正な場合はINVALID_EMAILエラーを返す。
func NormalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", model.NewInvalidEmailError(raw)
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed || addr.Name != "" {
		return "", model.NewInvalidEmailError(raw)
	}

	at := strings.LastIndex(trimmed, "@")
	if at <= 0 || at == len(trimmed)-1 {
		return "", model.NewInvalidEmailError(raw)
	}
	local := trimmed[:at]
	domain, err := idna.Lookup.ToASCII(strings.ToLower(trimmed[at+1:]))
	if err != nil || !strings.Contains(domain, ".") {
		return "", model.NewInvalidEmailError(raw)
	}

	return strings.ToLower(local) + "@" + domain, nil
}

// sameEmail は2つのメールアドレスが正規化後に一致するかを返す。
// 正規化に失敗した場合は小文字比較にフォールバックする。
func sameEmail(a, b string) bool {
	na, errA := NormalizeEmail(a)
	nb, errB := NormalizeEmail(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return na == nb
}
