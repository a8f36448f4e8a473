package secretbox

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestSealOpen(t *testing.T) {
	box, err := New(testKey())
	require.NoError(t, err)

	sealed, err := box.Seal("bearer-token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))
	assert.NotContains(t, sealed, "bearer-token")

	plaintext, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "bearer-token", plaintext)
}

func TestOpenRejectsPlaintextAndTampering(t *testing.T) {
	box, err := New(testKey())
	require.NoError(t, err)

	_, err = box.Open("bearer-token")
	assert.ErrorIs(t, err, ErrNotSealed)

	sealed, err := box.Seal("bearer-token")
	require.NoError(t, err)
	tampered := sealed[:len(sealed)-2] + "AA"
	_, err = box.Open(tampered)
	assert.Error(t, err)
}

func TestNewValidatesKey(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
	_, err = New(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
	_, err = New("%%%")
	assert.Error(t, err)
}
