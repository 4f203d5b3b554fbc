package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

const (
	apiKeyPrefix      = "ak_"
	apiKeySecretBytes = 16
	maxKeyAttempts    = 5
)

var apiKeyPattern = regexp.MustCompile(`^ak_[0-9a-f]{8}_[0-9a-f]{32}$`)

// generateAPIKey returns ak_<8 hex of sha256(customer)>_<32 hex random>. The
// customer part only groups keys; all entropy comes from crypto/rand.
func generateAPIKey(customerID string) (string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(customerID))
	return fmt.Sprintf("%s%s_%s", apiKeyPrefix, hex.EncodeToString(sum[:4]), hex.EncodeToString(secret)), nil
}

// ValidKeyFormat reports whether key has the shape of a generated key.
func ValidKeyFormat(key string) bool {
	return apiKeyPattern.MatchString(key)
}
