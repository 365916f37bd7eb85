package types

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

// projectNamePattern accepts lowercase alphanumerics with internal
// hyphens, no leading or trailing hyphen.
var projectNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// cchPrefix marks the restricted project class.
const cchPrefix = "cch"

// ValidateProjectName checks name length, character set and hyphen
// placement. It does not reject cch names; those are a distinct class,
// not invalid.
func ValidateProjectName(name string) error {
	if len(name) < 3 || len(name) > 63 {
		return NewError(KindInvalidProjectName)
	}
	if !projectNamePattern.MatchString(name) {
		return NewError(KindInvalidProjectName)
	}
	return nil
}

// IsCCHProject reports whether the name belongs to the cch class.
func IsCCHProject(name string) bool {
	return strings.HasPrefix(name, cchPrefix)
}

const keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateInitialKey produces the random per-project secret embedded in
// the container environment at create time.
func GenerateInitialKey() (string, error) {
	var b strings.Builder
	for i := 0; i < InitialKeyLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyAlphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(keyAlphabet[n.Int64()])
	}
	return b.String(), nil
}
