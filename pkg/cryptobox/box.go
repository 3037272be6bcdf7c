// Package cryptobox implements envelope encryption of short byte strings
// using a master secret (§4.1 Key Encryption).
//
// The derived key is computed lazily from the master secret via PBKDF2
// (SHA-256, >=100k iterations) against a fixed, process-wide salt tag, and
// memoized for the life of the Box. Each Encrypt call draws a fresh random
// 96-bit IV so re-encrypting the same plaintext never produces the same
// ciphertext twice.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/reins-ai/agentd/pkg/agentderr"
)

// saltTag is the fixed, process-wide salt used for key derivation. It is
// intentionally constant: the master secret itself is what must stay
// private, not the salt.
const saltTag = "reins-byok-v1"

const (
	kdfIterations = 100_000
	keySizeBytes  = 32 // AES-256
	nonceSizeBits = 96
)

// Box derives a single AES-256-GCM key from a master secret and uses it to
// seal/open short plaintexts.
type Box struct {
	mu     sync.Mutex
	secret []byte
	key    []byte // memoized derived key
}

// New creates a Box over the given master secret. The secret is copied;
// callers may discard their own copy after this call.
func New(masterSecret []byte) *Box {
	cp := make([]byte, len(masterSecret))
	copy(cp, masterSecret)
	return &Box{secret: cp}
}

func (b *Box) derivedKey() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.key == nil {
		b.key = pbkdf2.Key(b.secret, []byte(saltTag), kdfIterations, keySizeBytes, sha256.New)
	}
	return b.key
}

// Sealed is the ciphertext/iv pair returned by Encrypt.
type Sealed struct {
	Ciphertext string // base64-encoded AEAD output (includes the auth tag)
	IV         string // base64-encoded 96-bit nonce
}

// Encrypt seals plaintext under the Box's derived key with a fresh random
// IV. Re-encrypting identical plaintext twice yields distinct results.
func (b *Box) Encrypt(plaintext []byte) (Sealed, error) {
	gcm, err := b.gcm()
	if err != nil {
		return Sealed{}, agentderr.Wrap(agentderr.CodeAuth, "cryptobox: build cipher", err)
	}

	nonce := make([]byte, nonceSizeBits/8)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, agentderr.Wrap(agentderr.CodeAuth, "cryptobox: generate iv", err)
	}

	ct := gcm.Seal(nil, nonce, plaintext, nil)
	return Sealed{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Decrypt opens a Sealed value. It fails if the authentication tag does not
// validate (corrupted ciphertext, or a different master secret).
func (b *Box) Decrypt(s Sealed) ([]byte, error) {
	gcm, err := b.gcm()
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeAuth, "cryptobox: build cipher", err)
	}

	nonce, err := base64.StdEncoding.DecodeString(s.IV)
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeAuth, "cryptobox: decode iv", err)
	}
	ct, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeAuth, "cryptobox: decode ciphertext", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, agentderr.New(agentderr.CodeAuth, "cryptobox: malformed iv length")
	}

	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeAuth, "cryptobox: authentication failed", err)
	}
	return pt, nil
}

func (b *Box) gcm() (cipher.AEAD, error) {
	key := b.derivedKey()
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ErrShortCiphertext is returned by callers that pre-validate sealed blobs.
var ErrShortCiphertext = errors.New("cryptobox: ciphertext too short")
