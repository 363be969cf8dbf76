// Package roomcode generates and checks the short codes players share to
// join a room. A code also seeds the host's peer identity.
package roomcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/petervdpas/tunetrivia/internal/model"
)

// Alphabet excludes the visually ambiguous 0/O and 1/I.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	MinLen     = 5
	MaxLen     = 6
	DefaultLen = 5

	// IdentityPrefix is prepended to every peer identity name.
	IdentityPrefix = "spotiquiz"
)

// Generate returns a random code of length n. Lengths outside MinLen..MaxLen
// fall back to DefaultLen.
func Generate(n int) (string, error) {
	if n < MinLen || n > MaxLen {
		n = DefaultLen
	}
	var sb strings.Builder
	max := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		sb.WriteByte(Alphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// Normalize trims whitespace and upper-cases a user-entered code.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Validate checks an already-normalized code.
func Validate(code string) error {
	if len(code) < MinLen || len(code) > MaxLen {
		return &model.ValidationError{Field: "room code", Reason: fmt.Sprintf("must be %d-%d characters", MinLen, MaxLen)}
	}
	for _, r := range code {
		if !strings.ContainsRune(Alphabet, r) {
			return &model.ValidationError{Field: "room code", Reason: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	return nil
}

// HostIdentity is the deterministic identity name of a room's host.
func HostIdentity(code string) string {
	return IdentityPrefix + "-" + code
}

// GuestIdentity is a unique identity name for a guest of the room.
func GuestIdentity(code string) string {
	suffix, err := Generate(DefaultLen)
	if err != nil {
		suffix = strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return fmt.Sprintf("%s-%s-%d-%s", IdentityPrefix, code, time.Now().UnixMilli(), strings.ToLower(suffix))
}
