// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleFromEmail(t *testing.T) {
	handle := HandleFromEmail("user@example.com")
	require.Len(t, handle, 8)

	// Deterministic: same email, same handle
	assert.Equal(t, handle, HandleFromEmail("user@example.com"))

	// Different emails map to different handles
	assert.NotEqual(t, handle, HandleFromEmail("other@example.com"))
}

func TestUserHandleMatchesEmailDerivation(t *testing.T) {
	user := &User{ID: 7, Email: "user@example.com"}
	assert.Equal(t, HandleFromEmail("user@example.com"), user.Handle())
}

func TestCredentialIDEncoding(t *testing.T) {
	raw := []byte{0x01, 0x02, 0xff, 0xfe, 0x00}
	encoded := EncodeCredentialID(raw)

	// base64url without padding
	assert.NotContains(t, encoded, "=")
	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")

	decoded, err := DecodeCredentialID(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestDecodeCredentialIDRejectsInvalid(t *testing.T) {
	_, err := DecodeCredentialID("not base64url!!!")
	assert.Error(t, err)
}
