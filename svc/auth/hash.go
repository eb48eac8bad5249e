package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"

	"pasties/svc/util"
)

const (
	AlgSHA256  = "sha256"
	AlgBLAKE2b = "blake2b"

	// TokenLength is the length of generated urls and passwords.
	TokenLength = 10
)

// Hasher derives deterministic hex digests for passwords and random tokens.
// With a pepper the digest is an HMAC keyed by it.
type Hasher struct {
	alg     string
	newFn   func() hash.Hash
	pepper  []byte
	stopped bool
	mu      sync.RWMutex
}

var ErrStopped = errors.New("hasher stopped")

func NewHasher(alg string, pepper []byte) (*Hasher, error) {
	var fn func() hash.Hash
	switch alg {
	case "", AlgSHA256:
		alg, fn = AlgSHA256, sha256.New
	case AlgBLAKE2b:
		fn = func() hash.Hash {
			h, _ := blake2b.New256(nil)
			return h
		}
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", alg)
	}
	if len(pepper) > 0 && len(pepper) < 32 {
		return nil, errors.New("pepper must be at least 32 bytes")
	}
	var pepperCopy []byte
	if len(pepper) > 0 {
		pepperCopy = make([]byte, len(pepper))
		copy(pepperCopy, pepper)
	}
	return &Hasher{alg: alg, newFn: fn, pepper: pepperCopy}, nil
}

func (h *Hasher) Algorithm() string { return h.alg }

// Digest hashes the NFC form of s and returns lowercase hex.
// It fails once Stop has run.
func (h *Hasher) Digest(s string) (string, error) {
	b := []byte(norm.NFC.String(s))
	defer util.Wipe(b)
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return "", ErrStopped
	}
	var d hash.Hash
	if len(h.pepper) > 0 {
		d = hmac.New(h.newFn, h.pepper)
	} else {
		d = h.newFn()
	}
	d.Write(b)
	return hex.EncodeToString(d.Sum(nil)), nil
}

// Verify reports whether password hashes to digest, in constant time.
func (h *Hasher) Verify(password, digest string) (bool, error) {
	got, err := h.Digest(password)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(digest)) == 1, nil
}

// Token returns a short hex token derived from a random 32-bit value.
func (h *Hasher) Token() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	seed := fmt.Sprintf("%08X", binary.BigEndian.Uint32(buf[:]))
	d, err := h.Digest(seed)
	if err != nil {
		return "", err
	}
	return d[:TokenLength], nil
}

// Stop wipes the pepper and waits for digests in progress.
func (h *Hasher) Stop() {
	h.mu.Lock()
	util.Wipe(h.pepper)
	h.pepper = nil
	h.stopped = true
	h.mu.Unlock()
}
