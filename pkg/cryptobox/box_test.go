package cryptobox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBox_RoundTrip(t *testing.T) {
	box := New([]byte("correct-horse-battery-staple"))

	plaintext := []byte("super-secret-api-key-12345")
	sealed, err := box.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotEmpty(t, sealed.Ciphertext)
	require.NotEmpty(t, sealed.IV)

	got, err := box.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestBox_ReencryptYieldsDistinctOutput(t *testing.T) {
	box := New([]byte("same-secret"))
	plaintext := []byte("identical-plaintext")

	first, err := box.Encrypt(plaintext)
	require.NoError(t, err)
	second, err := box.Encrypt(plaintext)
	require.NoError(t, err)

	require.NotEqual(t, first.IV, second.IV)
	require.NotEqual(t, first.Ciphertext, second.Ciphertext)
}

func TestBox_WrongSecretFails(t *testing.T) {
	boxA := New([]byte("secret-a"))
	boxB := New([]byte("secret-b"))

	sealed, err := boxA.Encrypt([]byte("hello"))
	require.NoError(t, err)

	_, err = boxB.Decrypt(sealed)
	require.Error(t, err)
}

func TestBox_TamperedCiphertextFails(t *testing.T) {
	box := New([]byte("secret"))
	sealed, err := box.Encrypt([]byte("hello world"))
	require.NoError(t, err)

	// flip the ciphertext to simulate tampering
	sealed.Ciphertext = sealed.Ciphertext[:len(sealed.Ciphertext)-2] + "AA"

	_, err = box.Decrypt(sealed)
	require.Error(t, err)
}

func TestBox_KeyMemoized(t *testing.T) {
	box := New([]byte("secret"))
	k1 := box.derivedKey()
	k2 := box.derivedKey()
	require.Equal(t, k1, k2)
}
