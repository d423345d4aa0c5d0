package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadCredentials = errors.New("bad credentials")

// Credentials holds one operator account. The password is only ever kept as
// a bcrypt hash, supplied through configuration.
type Credentials struct {
	Username     string
	PasswordHash []byte
}

func (c Credentials) Check(username, password string) error {
	if c.Username == "" || len(c.PasswordHash) == 0 {
		return ErrBadCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username)) == 1
	// Always run bcrypt so a wrong username costs the same as a wrong password.
	passErr := bcrypt.CompareHashAndPassword(c.PasswordHash, []byte(password))
	if !userOK || passErr != nil {
		return ErrBadCredentials
	}
	return nil
}

// HashPassword is used by operators to produce ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
