package e2ee

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"rillcall/internal/core/ports"

	"go.uber.org/zap"
)

const (
	MediaKeySize = 32
	NonceSize    = 12
)

var (
	ErrInvalidKeyLength = errors.New("media key must be 32 bytes")
	ErrCryptorClosed    = errors.New("frame cryptor closed")
)

type direction int

const (
	directionEncrypt direction = iota
	directionDecrypt
)

func (d direction) String() string {
	if d == directionEncrypt {
		return "encrypt"
	}
	return "decrypt"
}

type frameRequest struct {
	dir   direction
	frame []byte
	reply chan []byte
}

type keyRequest struct {
	key   []byte
	reply chan error
}

// FrameCryptor runs AES-256-GCM over encoded media frames on a dedicated
// goroutine. The cipher state never leaves that goroutine; callers talk to it
// through channels. Every failure forwards the original frame.
type FrameCryptor struct {
	requests chan frameRequest
	keys     chan keyRequest
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once

	logger  *zap.SugaredLogger
	metrics ports.CallMetrics
}

func NewFrameCryptor(logger *zap.SugaredLogger, metrics ports.CallMetrics) *FrameCryptor {
	c := &FrameCryptor{
		requests: make(chan frameRequest),
		keys:     make(chan keyRequest),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		logger:   logger,
		metrics:  metrics,
	}
	go c.run()
	return c
}

// SetKey hands a 32-byte media key to the worker.
func (c *FrameCryptor) SetKey(key []byte) error {
	if len(key) != MediaKeySize {
		return fmt.Errorf("%w: got %d", ErrInvalidKeyLength, len(key))
	}
	req := keyRequest{key: append([]byte(nil), key...), reply: make(chan error, 1)}

	select {
	case c.keys <- req:
	case <-c.done:
		return ErrCryptorClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-c.stopped:
		return ErrCryptorClosed
	}
}

// Encrypt returns nonce || ciphertext, or frame itself on failure.
func (c *FrameCryptor) Encrypt(frame []byte) []byte {
	return c.process(directionEncrypt, frame)
}

// Decrypt expects nonce || ciphertext and returns frame itself on failure.
func (c *FrameCryptor) Decrypt(frame []byte) []byte {
	return c.process(directionDecrypt, frame)
}

// Close stops the worker. In-flight and later frames pass through unchanged.
func (c *FrameCryptor) Close() {
	c.once.Do(func() {
		close(c.done)
	})
	<-c.stopped
}

func (c *FrameCryptor) process(dir direction, frame []byte) []byte {
	req := frameRequest{dir: dir, frame: frame, reply: make(chan []byte, 1)}

	select {
	case c.requests <- req:
	case <-c.done:
		c.fail(dir, "worker stopped", nil)
		return frame
	}
	select {
	case out := <-req.reply:
		return out
	case <-c.stopped:
		c.fail(dir, "worker stopped", nil)
		return frame
	}
}

func (c *FrameCryptor) run() {
	defer close(c.stopped)

	var aead cipher.AEAD
	for {
		select {
		case <-c.done:
			return
		case req := <-c.keys:
			gcm, err := newGCM(req.key)
			if err == nil {
				aead = gcm
			}
			req.reply <- err
		case req := <-c.requests:
			req.reply <- c.apply(aead, req.dir, req.frame)
		}
	}
}

func (c *FrameCryptor) apply(aead cipher.AEAD, dir direction, frame []byte) []byte {
	if aead == nil {
		c.fail(dir, "no key", nil)
		return frame
	}

	switch dir {
	case directionEncrypt:
		nonce := make([]byte, NonceSize, NonceSize+len(frame)+aead.Overhead())
		if _, err := rand.Read(nonce); err != nil {
			c.fail(dir, "nonce", err)
			return frame
		}
		return aead.Seal(nonce, nonce, frame, nil)
	default:
		if len(frame) < NonceSize {
			c.fail(dir, "short frame", nil)
			return frame
		}
		plain, err := aead.Open(nil, frame[:NonceSize], frame[NonceSize:], nil)
		if err != nil {
			c.fail(dir, "open", err)
			return frame
		}
		return plain
	}
}

func (c *FrameCryptor) fail(dir direction, reason string, err error) {
	if c.logger != nil {
		c.logger.Debugw("Frame passed through unmodified",
			"direction", dir.String(),
			"reason", reason,
			"error", err,
		)
	}
	if c.metrics != nil {
		c.metrics.FrameCryptoFailure(dir.String(), reason)
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}
