package service

import (
	"crypto/rand"
	"math/big"
)

const (
	alnum         = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	keyAlphabet   = alnum + "-_"
	passwordChars = alnum + "!@#$%&*"

	apiKeyLength       = 48
	sessionTokenLength = 48
	tempPasswordLength = 12
	keyPrefixLength    = 8
)

// randomString draws n characters uniformly from alphabet using crypto/rand.
func randomString(n int, alphabet string) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}

// NewAPIKeySecret returns a fresh API key secret.
func NewAPIKeySecret() (string, error) {
	return randomString(apiKeyLength, keyAlphabet)
}

// NewSessionToken returns a fresh session token.
func NewSessionToken() (string, error) {
	return randomString(sessionTokenLength, alnum)
}

// NewTempPassword returns a temporary password for a new or reset account.
func NewTempPassword() (string, error) {
	return randomString(tempPasswordLength, passwordChars)
}
