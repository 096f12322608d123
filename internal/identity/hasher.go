// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// OWASP-recommended argon2id parameters.
const (
	argonTime    = 1         // iterations
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4         // parallelism
	argonSaltLen = 16        // salt length in bytes
	argonKeyLen  = 32        // output length in bytes
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("IDENTITY_EMPTY_PASSWORD").Errorf("password cannot be empty")

// Hasher provides password hashing and verification. Verification is
// constant-time by construction: the full key derivation always runs.
type Hasher interface {
	// Hash produces an argon2id hash of the password in PHC string form.
	Hash(password string) (string, error)

	// Verify checks the password against an encoded hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error
	// when the encoded hash is malformed.
	Verify(password, encoded string) (bool, error)
}

// Argon2Hasher implements Hasher using argon2id.
type Argon2Hasher struct{}

// NewArgon2Hasher creates an Argon2Hasher.
func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{}
}

// Hash produces an argon2id hash of the password.
func (h *Argon2Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("IDENTITY_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	// PHC string format: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonTime,
		argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// Verify checks the password against an encoded argon2id hash.
func (h *Argon2Hasher) Verify(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false, oops.Code("IDENTITY_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return false, oops.Code("IDENTITY_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code("IDENTITY_INVALID_HASH").Wrap(err)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, oops.Code("IDENTITY_INVALID_HASH").Wrap(err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("IDENTITY_INVALID_HASH").Wrap(err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code("IDENTITY_INVALID_HASH").Wrap(err)
	}

	// Threads must fit in uint8 to prevent silent truncation.
	if threads > 255 {
		return false, oops.Code("IDENTITY_INVALID_HASH").Errorf("threads value %d exceeds uint8 max", threads)
	}
	keyLen := len(want)
	if keyLen <= 0 || keyLen > 1<<30 {
		return false, oops.Code("IDENTITY_INVALID_HASH").Errorf("invalid hash key length: %d", keyLen)
	}

	got := argon2.IDKey([]byte(password), salt, time, memory, uint8(threads), uint32(keyLen))

	if subtle.ConstantTimeCompare(got, want) == 1 {
		return true, nil
	}
	return false, nil
}

// DummyHash is a syntactically valid argon2id hash that matches no password.
// Verification against it runs when an identity does not exist so that
// response time does not reveal which lookups found a record.
//
//nolint:gosec // G101: intentionally fake hash for timing equalization, not a credential.
const DummyHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
