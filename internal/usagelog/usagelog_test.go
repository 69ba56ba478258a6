package usagelog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectingSink records every batch handed to Write.
type collectingSink struct {
	mu     sync.Mutex
	writes [][]Entry
	closed bool
}

func (s *collectingSink) Write(ctx context.Context, batch []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Entry, len(batch))
	copy(cp, batch)
	s.writes = append(s.writes, cp)
	return nil
}

func (s *collectingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *collectingSink) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.writes {
		n += len(b)
	}
	return n
}

func TestNewRejectsNilContext(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
}

func TestLogFlushesOnClose(t *testing.T) {
	sink := &collectingSink{}
	l, err := New(context.Background(), nil, sink)
	require.NoError(t, err)

	l.Log(Entry{ID: uuid.New(), Provider: "p1", Model: "m1"})
	l.Log(Entry{ID: uuid.New(), Provider: "p1", Model: "m1"})

	require.NoError(t, l.Close())

	assert.Equal(t, 2, sink.entryCount())
	assert.True(t, sink.closed)
}

func TestLogFlushesOnTicker(t *testing.T) {
	sink := &collectingSink{}
	l, err := New(context.Background(), nil, sink)
	require.NoError(t, err)
	defer l.Close()

	l.Log(Entry{ID: uuid.New(), Provider: "p1"})

	require.Eventually(t, func() bool {
		return sink.entryCount() == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestLogDropsWhenChannelFull(t *testing.T) {
	l := &Logger{ch: make(chan Entry, 1), done: make(chan struct{})}

	l.Log(Entry{ID: uuid.New()})
	l.Log(Entry{ID: uuid.New()})
	l.Log(Entry{ID: uuid.New()})

	assert.Equal(t, int64(2), l.DroppedLogs())
}

func TestCloseIsIdempotent(t *testing.T) {
	sink := &collectingSink{}
	l, err := New(context.Background(), nil, sink)
	require.NoError(t, err)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}
