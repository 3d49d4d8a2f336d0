package wire

import (
	"encoding/hex"
	"strings"
)

// mustDecodeHex converts a hex dump, ignoring whitespace.
func mustDecodeHex(s string) []byte {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("testdata: " + err.Error())
	}
	return b
}
