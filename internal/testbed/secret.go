package testbed

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nao1215/topocrawl/internal/model"
)

const (
	secretPrefix = "%ENC{"
	secretSuffix = "}"
	secretKey    = "pyats"
)

// IsEncoded reports whether s is an %ENC{...} value.
func IsEncoded(s string) bool {
	return strings.HasPrefix(s, secretPrefix) && strings.HasSuffix(s, secretSuffix)
}

// EncodeSecret returns the %ENC{} form pyATS decodes with its default
// representer. %ASK{} and values that are already encoded are returned
// unchanged.
func EncodeSecret(plain string) string {
	if plain == model.AskPlaceholder || IsEncoded(plain) {
		return plain
	}
	var b strings.Builder
	for i := 0; i < len(plain); i++ {
		k := secretKey[i%len(secretKey)]
		b.WriteRune(rune((int(plain[i]) + int(k)) % 256))
	}
	return secretPrefix + base64.StdEncoding.EncodeToString([]byte(b.String())) + secretSuffix
}

// DecodeSecret reverses EncodeSecret. Values without the %ENC{} marker are
// returned as is.
func DecodeSecret(s string) (string, error) {
	if !IsEncoded(s) {
		return s, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s[len(secretPrefix) : len(s)-len(secretSuffix)])
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSecret, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: not utf-8", ErrInvalidSecret)
	}

	out := make([]byte, 0, len(raw))
	i := 0
	for _, r := range string(raw) {
		if r > 0xff {
			return "", fmt.Errorf("%w: code point %U out of range", ErrInvalidSecret, r)
		}
		k := secretKey[i%len(secretKey)]
		out = append(out, byte((int(r)-int(k)+256)%256))
		i++
	}
	return string(out), nil
}
