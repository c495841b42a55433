package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// CodeGenerator produces numeric one-time codes.
type CodeGenerator interface {
	Generate(length int) (string, error)
}

type randomCodes struct{}

func (randomCodes) Generate(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

func isNumericCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// newOpaqueToken returns a random base64url token for the client and the
// hex sha256 that gets stored.
func newOpaqueToken() (raw string, hash string, err error) {
	b := make([]byte, 32)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, hashOpaqueToken(raw), nil
}

func hashOpaqueToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// codeHasher keys code digests with the server secret and binds them to the
// challenge they were issued for.
type codeHasher struct {
	key []byte
}

func (h codeHasher) hash(purpose, challengeID, code string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(challengeID))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

func (h codeHasher) matches(purpose, challengeID, code, stored string) bool {
	if stored == "" {
		return false
	}
	return hmac.Equal([]byte(h.hash(purpose, challengeID, code)), []byte(stored))
}
