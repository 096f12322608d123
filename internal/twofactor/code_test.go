// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package twofactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	code, hash, err := GenerateCode()
	require.NoError(t, err)

	assert.Len(t, code, codeDigits)
	assert.Regexp(t, `^\d+$`, code)
	assert.Equal(t, HashCode(code), hash)
}

func TestVerifyCode(t *testing.T) {
	code, hash, err := GenerateCode()
	require.NoError(t, err)

	assert.True(t, VerifyCode(code, hash))
	assert.False(t, VerifyCode("999999x", hash))
	assert.False(t, VerifyCode("", hash))
	assert.False(t, VerifyCode(code, ""))
}

func TestVerifyCode_WrongCode(t *testing.T) {
	hash := HashCode("123456")
	assert.False(t, VerifyCode("654321", hash))
	assert.True(t, VerifyCode("123456", hash))
}
