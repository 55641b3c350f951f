package api

import (
	"crypto/rand"
	"math/big"
	"regexp"

	"github.com/google/uuid"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	completionIDPrefix = "chatcmpl-"
	runIDPrefix        = "run_"
)

var (
	completionIDPattern = regexp.MustCompile(`^chatcmpl-[a-zA-Z0-9]{24}$`)
	runIDPattern        = regexp.MustCompile(`^run_[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
)

// NewCompletionID generates a new completion ID with the "chatcmpl-" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewCompletionID() string {
	return completionIDPrefix + randomAlphanumeric(idLength)
}

// ValidateCompletionID checks whether the given string is a valid completion
// ID (matches "chatcmpl-" + 24 alphanumeric characters).
func ValidateCompletionID(id string) bool {
	return completionIDPattern.MatchString(id)
}

// NewRunID generates a new run ID with the "run_" prefix followed by a
// random UUID.
func NewRunID() string {
	return runIDPrefix + uuid.NewString()
}

// ValidateRunID checks whether the given string is a valid run ID
// (matches "run_" + a lowercase UUID).
func ValidateRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
