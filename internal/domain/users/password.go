package users

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	generatedPasswordLength = 12
	minPasswordLength       = 8

	lowerChars  = "abcdefghijkmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars  = "23456789"
	symbolChars = "!@#$%&*?-_"
)

var ErrWeakPassword = fmt.Errorf("password must be at least %d characters", minPasswordLength)

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// GeneratePassword returns a random password holding at least one
// character of each class.
func GeneratePassword() (string, error) {
	classes := []string{lowerChars, upperChars, digitChars, symbolChars}
	all := lowerChars + upperChars + digitChars + symbolChars

	buf := make([]byte, generatedPasswordLength)
	for i := range buf {
		set := all
		if i < len(classes) {
			set = classes[i]
		}
		j, err := randIndex(len(set))
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		buf[i] = set[j]
	}
	// Fisher-Yates so the guaranteed classes are not always up front.
	for i := len(buf) - 1; i > 0; i-- {
		j, err := randIndex(i + 1)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// newOTP returns a six digit code.
func newOTP() (string, error) {
	n, err := randIndex(1000000)
	if err != nil {
		return "", errors.New("generate otp")
	}
	return fmt.Sprintf("%06d", n), nil
}

func hashOTP(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}
	return string(hash), nil
}
