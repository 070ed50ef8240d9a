package crypto

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password with bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the bcrypt hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// BcryptHasher adapts HashPassword/CheckPassword to the service PasswordHasher interface
type BcryptHasher struct{}

func (BcryptHasher) Hash(password string) (string, error) { return HashPassword(password) }

func (BcryptHasher) Compare(hash, password string) bool { return CheckPassword(password, hash) }
