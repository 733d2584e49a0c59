package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/aretw0/asyncworker/pkg/adapters/memory"
	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/persistence/middleware"
	"github.com/aretw0/asyncworker/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ports.RunQueueContract(t, mw(memory.NewQueue()))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := memory.NewQueue()
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	secure := mw(underlying)
	ctx := context.Background()

	job := domain.NewJob("process", map[string]any{"command": "backup", "token": "my-secret-sauce"})
	require.NoError(t, secure.Enqueue(ctx, job))
	assert.Equal(t, "my-secret-sauce", job.Payload["token"], "caller's job is left untouched")

	// Read the stored form straight from the backend.
	stored, err := underlying.Dequeue(ctx, []string{domain.DefaultQueue}, 0)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, "process", stored.Type)
	assert.NotContains(t, stored.Payload, "token")
	assert.Contains(t, stored.Payload, "__encrypted__")

	// Put it back and read it through the middleware.
	require.NoError(t, underlying.Enqueue(ctx, stored))
	loaded, err := secure.Dequeue(ctx, []string{domain.DefaultQueue}, 0)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "my-secret-sauce", loaded.Payload["token"])
	assert.Equal(t, "backup", loaded.Payload["command"])
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := memory.NewQueue()
	oldKey := generateKey(t)
	newKey := generateKey(t)
	ctx := context.Background()
	queues := []string{domain.DefaultQueue}

	secureOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlying)
	secureNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlying)

	// 1. Enqueue with OLD key, dequeue with NEW key + OLD fallback
	require.NoError(t, secureOld.Enqueue(ctx, domain.NewJob("noop", map[string]any{"data": "old"})))
	loaded, err := secureNew.Dequeue(ctx, queues, 0)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "old", loaded.Payload["data"])

	// 2. Enqueue with NEW key; the OLD-only middleware cannot open it and drops it
	job := domain.NewJob("noop", map[string]any{"data": "new"})
	require.NoError(t, secureNew.Enqueue(ctx, job))
	_, err = secureOld.Dequeue(ctx, queues, 0)
	assert.ErrorContains(t, err, job.ID)

	next, err := underlying.Dequeue(ctx, queues, 0)
	require.NoError(t, err)
	assert.Nil(t, next, "undecryptable job is dropped")
}

func TestEncryptionMiddleware_PlainPayloadRejected(t *testing.T) {
	underlying := memory.NewQueue()
	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlying)
	ctx := context.Background()

	require.NoError(t, underlying.Enqueue(ctx, domain.NewJob("noop", map[string]any{"data": "plain"})))
	_, err := secure.Dequeue(ctx, []string{domain.DefaultQueue}, 0)
	assert.ErrorContains(t, err, "envelope")
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	assert.Panics(t, func() {
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	})
}
