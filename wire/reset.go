package wire

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// StatelessResetTokenLen is the length of a stateless reset token.
const StatelessResetTokenLen = statelessResetTokenLen

// MinStatelessResetSize is the smallest datagram BuildStatelessReset
// will produce: initial byte, at least 8 random bytes and the token.
const MinStatelessResetSize = 1 + 8 + StatelessResetTokenLen

// ResetTokenGenerator derives stateless reset tokens for connection
// IDs. The token is the first 16 bytes of HMAC-SHA256 over the
// connection ID, keyed with a key expanded from the configured secret.
type ResetTokenGenerator struct {
	key []byte
}

// NewResetTokenGenerator expands secret into the HMAC key.
func NewResetTokenGenerator(secret []byte) (*ResetTokenGenerator, error) {
	key := make([]byte, sha256.Size)
	r := hkdf.Expand(sha256.New, secret, []byte("stateless reset"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return &ResetTokenGenerator{key: key}, nil
}

// Token computes the reset token for id.
func (g *ResetTokenGenerator) Token(id ConnectionID) [StatelessResetTokenLen]byte {
	mac := hmac.New(sha256.New, g.key)
	mac.Write(id)
	var token [StatelessResetTokenLen]byte
	copy(token[:], mac.Sum(nil))
	return token
}

// BuildStatelessReset writes a stateless reset datagram: one byte with
// only the fixed bit set, maxSize-17 random bytes, then the token.
// https://www.rfc-editor.org/rfc/rfc9000.html#section-10.3
func BuildStatelessReset(maxSize int, token [StatelessResetTokenLen]byte) ([]byte, error) {
	if maxSize < MinStatelessResetSize {
		maxSize = MinStatelessResetSize
	}
	b := make([]byte, maxSize)
	b[0] = fixedBitMask
	if _, err := rand.Read(b[1 : maxSize-StatelessResetTokenLen]); err != nil {
		return nil, err
	}
	copy(b[maxSize-StatelessResetTokenLen:], token[:])
	return b, nil
}

// IsStatelessReset reports whether datagram b is a short-header
// datagram of at least MinStatelessResetSize bytes ending with token.
func IsStatelessReset(b []byte, token [StatelessResetTokenLen]byte) bool {
	if len(b) < MinStatelessResetSize || IsLongHeader(b[0]) {
		return false
	}
	return hmac.Equal(b[len(b)-StatelessResetTokenLen:], token[:])
}
