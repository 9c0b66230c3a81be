package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
)

func TestNewStore_MemoryWhenNoAddr(t *testing.T) {
	s := NewStore("", 0)
	if s == nil {
		t.Fatalf("expected storage")
	}
	if err := s.Set("k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get("k")
	assert.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestNewStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	s := NewStore(mr.Addr(), 0)
	if err := s.Set("limiter_k", []byte("1"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	assert.True(t, mr.Exists("limiter_k"), "value must land in redis")
}

func TestNewStore_UnreachableRedisFallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	s := NewStore(addr, 0)
	if s == nil {
		t.Fatalf("expected fallback storage")
	}
	if err := s.Set("k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("fallback storage should accept writes: %v", err)
	}
}
