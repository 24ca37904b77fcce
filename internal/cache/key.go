package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// KeyLength is the number of hex characters in a cache key.
const KeyLength = sha256.Size * 2

// Key derives the content address of a generation. Every field is length
// prefixed before hashing so that no two distinct tuples share an encoding.
func Key(prompt, style, motions string, seed int64) string {
	h := sha256.New()
	for _, field := range []string{prompt, style, motions, strconv.FormatInt(seed, 10)} {
		fmt.Fprintf(h, "%d:%s;", len(field), field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MotionsToken joins the request-ordered motions and, when present, the
// requested directions into the motions field of a key.
func MotionsToken(motions []string, directions []string) string {
	token := strings.Join(motions, ",")
	if len(directions) > 0 {
		token += "#" + strings.Join(directions, ",")
	}
	return token
}

// ValidKey reports whether key looks like a value produced by Key.
func ValidKey(key string) bool {
	if len(key) != KeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
