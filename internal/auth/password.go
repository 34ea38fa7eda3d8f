package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for newly hashed passwords.
const (
	Memory      = 64 * 1024
	Iterations  = 3
	Parallelism = 2
	SaltLength  = 16
	KeyLength   = 32
)

// Legacy hashes are a 20 character salt followed by the base64 SHA-256 digest
// of password+salt.
const (
	legacyHashLength = 64
	legacySaltLength = 20
)

// HashPassword returns an encoded Argon2id hash of password.
func HashPassword(password string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, Iterations, Memory, Parallelism, KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, Memory, Iterations, Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// CheckPassword reports whether password matches the stored hash, which may
// be either an Argon2id encoded hash or a legacy salted SHA-256 hash.
func CheckPassword(password, stored string) bool {
	if strings.HasPrefix(stored, "$argon2id$") {
		ok, err := compareArgon2(password, stored)
		return err == nil && ok
	}
	return compareLegacy(password, stored)
}

func compareLegacy(password, saltedHash string) bool {
	if len(saltedHash) != legacyHashLength {
		return false
	}
	salt := saltedHash[:legacySaltLength]
	expected := saltedHash[legacySaltLength:]

	sum := sha256.Sum256([]byte(password + salt))
	actual := base64.StdEncoding.EncodeToString(sum[:])

	return subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) == 1
}

func compareArgon2(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parse hash version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("parse hash parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}
	decoded, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}

	comparison := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(decoded)))
	return subtle.ConstantTimeCompare(decoded, comparison) == 1, nil
}
