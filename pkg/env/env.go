package env

import (
	"os"
	"strings"
)

// First returns the first non-blank value among keys, in order.
func First(keys ...string) (string, bool) {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val, true
		}
	}
	return "", false
}

// Get is First with a fallback for when none of keys are set.
func Get(fallback string, keys ...string) string {
	if val, ok := First(keys...); ok {
		return val
	}
	return fallback
}
