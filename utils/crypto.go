package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// HashAdminToken produces the bcrypt hash that ADMIN_TOKEN_HASH expects.
// Exposed so deployments can generate the hash with a one-off snippet.
func HashAdminToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckAdminToken(hashedToken, token string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedToken), []byte(token))
	return err == nil
}
