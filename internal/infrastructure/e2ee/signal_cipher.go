package e2ee

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"rillcall/internal/core/domain"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrStaleSignal      = errors.New("signal outside freshness window")
	ErrSignalAuthFailed = errors.New("signal authentication failed")
)

const DefaultFreshnessWindow = 2 * time.Minute

// StaticKeySignalCipher seals signaling payloads with XChaCha20-Poly1305 under
// a pre-shared key. The peer id, caller context string and timestamp are bound
// as associated data.
type StaticKeySignalCipher struct {
	key    []byte
	window time.Duration
	now    func() time.Time
}

func NewStaticKeySignalCipher(key []byte, window time.Duration) (*StaticKeySignalCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKeyLength, len(key))
	}
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &StaticKeySignalCipher{
		key:    append([]byte(nil), key...),
		window: window,
		now:    time.Now,
	}, nil
}

func (c *StaticKeySignalCipher) EncryptSignal(ctx context.Context, peerID domain.PeerID, payload []byte, aad string) (domain.SealedSignal, error) {
	if err := ctx.Err(); err != nil {
		return domain.SealedSignal{}, err
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return domain.SealedSignal{}, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return domain.SealedSignal{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ts := c.now().UnixMilli()

	return domain.SealedSignal{
		Ciphertext: aead.Seal(nil, nonce, payload, associatedData(peerID, aad, ts)),
		Nonce:      nonce,
		Timestamp:  ts,
	}, nil
}

func (c *StaticKeySignalCipher) DecryptSignal(ctx context.Context, peerID domain.PeerID, sealed domain.SealedSignal, aad string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	age := c.now().Sub(time.UnixMilli(sealed.Timestamp))
	if age > c.window || age < -c.window {
		return nil, fmt.Errorf("%w: age %s", ErrStaleSignal, age)
	}
	if len(sealed.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrSignalAuthFailed
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, associatedData(peerID, aad, sealed.Timestamp))
	if err != nil {
		return nil, ErrSignalAuthFailed
	}
	return plain, nil
}

func associatedData(peerID domain.PeerID, aad string, ts int64) []byte {
	out := make([]byte, 0, len(peerID)+len(aad)+10)
	out = append(out, peerID...)
	out = append(out, 0)
	out = append(out, aad...)
	out = append(out, 0)
	return binary.BigEndian.AppendUint64(out, uint64(ts))
}
