// utils/handle.go
package utils

import (
	"strings"

	"github.com/gosimple/slug"
	"golang.org/x/text/unicode/norm"
)

// NormalizeHandle canonicalizes a chat handle for lookups: strips a
// leading "@", NFC-normalizes the unicode, then slugifies so that
// "@José_Dupont" and "jose_dupont" resolve to the same player.
func NormalizeHandle(handle string) string {
	h := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	h = norm.NFC.String(h)
	return slug.Make(h)
}
