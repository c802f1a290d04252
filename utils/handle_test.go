// utils/handle_test.go
package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHandle(t *testing.T) {
	cases := map[string]string{
		"@Alice":        "alice",
		"alice":         "alice",
		"  @alice  ":    "alice",
		"@José_Dupont": "jose_dupont",
		"jose_dupont":   "jose_dupont",
		"@Some User":    "some-user",
		"@ÜberGamer":    "ubergamer",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeHandle(in), "input %q", in)
	}
}

func TestNormalizeHandleIsIdempotent(t *testing.T) {
	for _, in := range []string{"@José_Dupont", "Some User", "@x"} {
		once := NormalizeHandle(in)
		assert.Equal(t, once, NormalizeHandle(once))
	}
}
