package accounts

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	goerrors "github.com/goliatone/go-errors"
)

// Secret configuration.
const (
	TokenBytes                = 32 // 256 bits, hex encoded to 64 chars
	OTPDigits                 = 6
	TemporaryPasswordLength   = 16
	temporaryPasswordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789-_"
)

var (
	otpFloor = big.NewInt(100000)
	otpSpan  = big.NewInt(900000)
)

// GenerateToken creates a secure random token and its hash.
// The clear token goes to the account holder; only the hash is stored.
func GenerateToken() (token, hash string, err error) {
	buf := make([]byte, TokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate token")
	}

	token = hex.EncodeToString(buf)
	return token, HashToken(token), nil
}

// HashToken computes the storage form of a clear token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyTokenHash checks a clear token against a stored hash in constant time.
func VerifyTokenHash(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// GenerateOTP returns a uniformly drawn code in [100000, 999999].
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpan)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate one-time code")
	}
	return fmt.Sprintf("%0*d", OTPDigits, n.Add(n, otpFloor)), nil
}

// VerifyOTP compares a submitted code with the stored one in constant time.
func VerifyOTP(code, stored string) bool {
	if code == "" || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(stored)) == 1
}

// GenerateTemporaryPassword returns a random password for admin assisted resets.
func GenerateTemporaryPassword() (string, error) {
	out := make([]byte, TemporaryPasswordLength)
	max := big.NewInt(int64(len(temporaryPasswordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate temporary password")
		}
		out[i] = temporaryPasswordAlphabet[n.Int64()]
	}
	return string(out), nil
}
