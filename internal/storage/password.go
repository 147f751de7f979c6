package storage

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

// Password hashes use the pbkdf2_sha256$<iterations>$<salt>$<base64 key>
// layout so accounts created by the web application verify unchanged.
const passwordAlgorithm = "pbkdf2_sha256"

var passwordIterations = 870000

var deriveKey = func(password string, salt []byte, iterations int) ([]byte, error) {
	return pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New), nil
}

// HashPassword encodes password with a fresh salt.
func HashPassword(password string) (string, error) {
	salt := uuid.New()
	return encodePassword(password, hex.EncodeToString(salt[:]), passwordIterations)
}

func encodePassword(password, salt string, iterations int) (string, error) {
	if strings.Contains(salt, "$") {
		return "", fmt.Errorf("salt must not contain '$'")
	}
	key, err := deriveKey(password, []byte(salt), iterations)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}
	return fmt.Sprintf("%s$%d$%s$%s", passwordAlgorithm, iterations, salt, base64.StdEncoding.EncodeToString(key)), nil
}

// burnPasswordCheck costs the same as checking a real hash, so unknown
// usernames answer no faster than wrong passwords.
func burnPasswordCheck(password string) {
	_ = CheckPassword(password, fmt.Sprintf("%s$%d$%s$", passwordAlgorithm, passwordIterations, "nouser"))
}

// CheckPassword reports whether password matches encoded. Malformed or
// unsupported hashes never match.
func CheckPassword(password, encoded string) bool {
	parts := strings.SplitN(encoded, "$", 4)
	if len(parts) != 4 || parts[0] != passwordAlgorithm {
		return false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	want, err := encodePassword(password, parts[2], iterations)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(encoded)) == 1
}
