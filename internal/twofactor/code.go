// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package twofactor

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/samber/oops"
)

// One-time code parameters for anomaly challenges delivered out-of-band.
const codeDigits = 6

// GenerateCode produces a random numeric one-time code and its SHA-256
// hash. Only the hash is retained session-side; the plaintext goes to the
// delivery transport and is then discarded.
func GenerateCode() (code, hash string, err error) {
	maxVal := big.NewInt(1)
	for range codeDigits {
		maxVal.Mul(maxVal, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, maxVal)
	if err != nil {
		return "", "", oops.Code("CODE_GENERATE_FAILED").Wrap(err)
	}
	code = fmt.Sprintf("%0*d", codeDigits, n)
	return code, HashCode(code), nil
}

// HashCode returns the hex SHA-256 of a code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// VerifyCode compares a submitted code against a stored hash in constant
// time.
func VerifyCode(code, hash string) bool {
	if code == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashCode(code)), []byte(hash)) == 1
}
