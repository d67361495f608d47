package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// HashKey builds a stable key from ordered parts, used for dedup and cache keys.
func HashKey(parts ...string) string {
	return HashString(strings.Join(parts, ":"))
}
