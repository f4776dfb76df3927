package utils

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const sessionAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateSessionID returns "session_<unix ms>_<9 base36 chars>". It carries
// no uniqueness guarantee beyond what the random suffix gives.
func GenerateSessionID() string {
	return GenerateSessionIDAt(time.Now())
}

func GenerateSessionIDAt(now time.Time) string {
	var b strings.Builder
	b.WriteString("session_")
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('_')
	base := big.NewInt(int64(len(sessionAlphabet)))
	for i := 0; i < 9; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			// crypto/rand does not fail on supported platforms; keep the id well formed anyway
			b.WriteByte(sessionAlphabet[(uint64(now.UnixNano())>>uint(i))%36])
			continue
		}
		b.WriteByte(sessionAlphabet[n.Int64()])
	}
	return b.String()
}

// IsSessionID reports whether id has the shape GenerateSessionID produces.
func IsSessionID(id string) bool {
	rest, ok := strings.CutPrefix(id, "session_")
	if !ok {
		return false
	}
	ms, suffix, ok := strings.Cut(rest, "_")
	if !ok || ms == "" || len(suffix) != 9 {
		return false
	}
	if _, err := strconv.ParseInt(ms, 10, 64); err != nil {
		return false
	}
	for _, r := range suffix {
		if !strings.ContainsRune(sessionAlphabet, r) {
			return false
		}
	}
	return true
}
