// internal/accounts/password.go
package accounts

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// hashSecret generates a salted Argon2id hash of a password or PIN.
func hashSecret(secret string) (hash, salt string, err error) {
	raw := make([]byte, saltLen)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), raw, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.StdEncoding.EncodeToString(key), base64.StdEncoding.EncodeToString(raw), nil
}

// verifySecret compares secret with a stored hash in constant time.
func verifySecret(secret, salt, hash string) (bool, error) {
	decodedSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	decodedHash, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}
	key := argon2.IDKey([]byte(secret), decodedSalt, argonTime, argonMemory, argonThreads, uint32(len(decodedHash)))
	return subtle.ConstantTimeCompare(decodedHash, key) == 1, nil
}

// dummyCredential is hashed against when the username is unknown so that
// both failure paths cost the same.
var dummyCredential = func() Credential {
	hash, salt, err := hashSecret("unused-password-0")
	if err != nil {
		panic(err)
	}
	return Credential{PasswordHash: hash, PasswordSalt: salt, PinHash: hash, PinSalt: salt}
}()
