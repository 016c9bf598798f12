// Package identity maps platform user IDs to the stable aliases that are
// the only durable record of authorship in the mirror.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// AliasLen is the length of every bare alias.
const AliasLen = 12

// Hasher derives 12-character aliases from user IDs. The hash is pinned to
// SHA-256; changing it would orphan every alias already persisted.
type Hasher struct {
	pepper []byte
}

// NewHasher validates and decodes the pepper, which must be 64 hex
// characters (a 256-bit secret).
func NewHasher(pepperHex string) (*Hasher, error) {
	if len(pepperHex) != 64 {
		return nil, fmt.Errorf("pepper must be 64 hex chars, got %d", len(pepperHex))
	}
	pepper, err := hex.DecodeString(pepperHex)
	if err != nil {
		return nil, fmt.Errorf("pepper is not valid hex: %w", err)
	}
	return &Hasher{pepper: pepper}, nil
}

// Alias returns the first 12 hex characters of SHA-256(userID || pepper).
// Truncation collisions are tolerated at forum scale; they are not detected.
func (h *Hasher) Alias(userID int64) string {
	sum := sha256.New()
	sum.Write([]byte(strconv.FormatInt(userID, 10)))
	sum.Write(h.pepper)
	return hex.EncodeToString(sum.Sum(nil))[:AliasLen]
}

// FormatAuthor renders the display alias. With a staff tag the form is the
// first 8 alias characters, a colon, and the tag.
func FormatAuthor(alias, staffTag string) string {
	if staffTag == "" {
		return alias
	}
	return alias[:8] + ":" + staffTag
}
