package otp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func session(code string, ttl time.Duration) Session {
	now := time.Now()
	return Session{
		Code:      code,
		ClassID:   1,
		Slot:      1,
		IssuerID:  "t1",
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestMemoryStorePutRejectsActiveDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, session("123456", time.Minute)))
	assert.ErrorIs(t, s.Put(ctx, session("123456", time.Minute)), ErrCodeTaken)
}

func TestMemoryStorePutReplacesExpiredLeftover(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, session("123456", -time.Second)))
	replacement := session("123456", time.Minute)
	require.NoError(t, s.Put(ctx, replacement))

	got, ok, err := s.Get(ctx, "123456")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, replacement.ExpiresAt, got.ExpiresAt)
}

func TestMemoryStoreRemoveAbsentCode(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Remove(context.Background(), "000000"))
}

func TestMemoryStoreSweep(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, session("111111", -time.Second)))
	require.NoError(t, s.Put(ctx, session("222222", time.Minute)))

	assert.Equal(t, 1, s.Sweep(time.Now()))

	_, ok, _ := s.Get(ctx, "111111")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "222222")
	assert.True(t, ok)
}
