package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RandomSuffix returns a short random hex string for unique test fixtures.
func RandomSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// RandomSlug returns a slug with the given prefix and a random suffix.
func RandomSlug(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, RandomSuffix())
}

// RandomEmail returns a unique email address with the given local-part prefix.
func RandomEmail(prefix string) string {
	return fmt.Sprintf("%s-%s@example.com", prefix, RandomSuffix())
}
