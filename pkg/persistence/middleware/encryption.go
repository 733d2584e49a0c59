// Package middleware wraps queue backends to change how jobs are stored.
package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/ports"
)

// envelopeKey holds the sealed payload inside the stored job.
const envelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.Queue
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals job payloads with AES-GCM
// before they reach the backend. Type, queue and timing fields stay readable so that
// the backend can still order, delay and expire jobs.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.Queue) ports.Queue {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Enqueue(ctx context.Context, job *domain.Job) error {
	plainText, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt payload: %w", err)
	}

	sealed := *job
	sealed.Payload = map[string]any{
		envelopeKey: base64.StdEncoding.EncodeToString(ciphertext),
	}
	if err := m.next.Enqueue(ctx, &sealed); err != nil {
		return err
	}

	// The backend may assign identity fields.
	job.ID = sealed.ID
	job.Queue = sealed.Queue
	job.EnqueuedAt = sealed.EnqueuedAt
	return nil
}

// Dequeue opens the payload of the next job. A job that cannot be opened with any
// configured key is dropped and reported as an error.
func (m *encryptionMiddleware) Dequeue(ctx context.Context, queues []string, block time.Duration) (*domain.Job, error) {
	job, err := m.next.Dequeue(ctx, queues, block)
	if err != nil || job == nil {
		return job, err
	}

	payload, err := m.open(job)
	if err != nil {
		if cerr := m.next.Complete(ctx, job); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	job.Payload = payload
	return job, nil
}

func (m *encryptionMiddleware) open(job *domain.Job) (map[string]any, error) {
	encryptedStr, ok := job.Payload[envelopeKey].(string)
	if !ok {
		// Fail secure: a plain payload was not written through this middleware.
		return nil, errors.New("payload is missing encrypted data envelope")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(plainText, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted payload: %w", err)
	}
	return payload, nil
}

func (m *encryptionMiddleware) Complete(ctx context.Context, job *domain.Job) error {
	return m.next.Complete(ctx, job)
}

func (m *encryptionMiddleware) AdvanceQueues(ctx context.Context) error {
	return m.next.AdvanceQueues(ctx)
}

func (m *encryptionMiddleware) IsAvailable(ctx context.Context) bool {
	return m.next.IsAvailable(ctx)
}

func (m *encryptionMiddleware) Stats(ctx context.Context, queue string) (ports.QueueStats, error) {
	return m.next.Stats(ctx, queue)
}

func (m *encryptionMiddleware) Names(ctx context.Context) ([]string, error) {
	return m.next.Names(ctx)
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	// Try active key first
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	// Try fallbacks in order
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
