package forms

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	codePrefix   = "FORM-"
	codeLength   = 9
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewCode returns a random record code of the form FORM-XXXXXXXXX.
func NewCode() (string, error) {
	var b strings.Builder
	b.WriteString(codePrefix)
	base := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
