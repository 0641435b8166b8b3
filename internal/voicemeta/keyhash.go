package voicemeta

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltBytes  = 16
	iterations = 100_000
	keyLength  = sha256.Size
)

// HashKey derives a fresh random salt and the PBKDF2-HMAC-SHA256 hash of
// key. Both are hex encoded. The hex salt string itself is the PBKDF2 salt.
func HashKey(key string) (salt, hash string, err error) {
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("voicemeta: generate salt: %w", err)
	}
	salt = hex.EncodeToString(raw)
	return salt, deriveHash(key, salt), nil
}

// VerifyKey reports whether key hashes to hash under salt. The comparison
// takes constant time.
func VerifyKey(key, salt, hash string) bool {
	computed := deriveHash(key, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

func deriveHash(key, salt string) string {
	dk := pbkdf2.Key([]byte(key), []byte(salt), iterations, keyLength, sha256.New)
	return hex.EncodeToString(dk)
}
