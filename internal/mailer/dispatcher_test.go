package mailer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []Message
	err      error
	delay    time.Duration
}

func (s *recordingSender) Send(ctx context.Context, msg Message) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func TestDispatcher_Dispatch(t *testing.T) {
	msg := Message{To: "a@x.com", Subject: "Your code", Body: "123456"}

	tests := []struct {
		name       string
		sender     *recordingSender
		timeout    time.Duration
		wantSent   int
		wantFailed int
	}{
		{
			name:     "delivers message",
			sender:   &recordingSender{},
			timeout:  time.Second,
			wantSent: 1,
		},
		{
			name:       "provider error is counted not returned",
			sender:     &recordingSender{err: errors.New("provider down")},
			timeout:    time.Second,
			wantFailed: 1,
		},
		{
			name:       "slow provider hits the timeout",
			sender:     &recordingSender{delay: time.Second},
			timeout:    20 * time.Millisecond,
			wantFailed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(tt.sender, tt.timeout, zap.NewNop())

			start := time.Now()
			d.Dispatch(msg)
			assert.Less(t, time.Since(start), 50*time.Millisecond, "dispatch must not block")

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			require.NoError(t, d.Wait(ctx))

			stats := d.Stats()
			assert.Equal(t, tt.wantSent, stats.Sent)
			assert.Equal(t, tt.wantFailed, stats.Failed)
		})
	}
}

func TestDispatcher_WaitHonoursContext(t *testing.T) {
	d := NewDispatcher(&recordingSender{delay: time.Second}, 5*time.Second, zap.NewNop())
	d.Dispatch(Message{To: "a@x.com", Subject: "s", Body: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
}

func TestLogSender_RejectsIncompleteMessage(t *testing.T) {
	s := NewLogSender(zap.NewNop())
	assert.ErrorIs(t, s.Send(context.Background(), Message{To: "a@x.com"}), ErrInvalidMessage)
	assert.NoError(t, s.Send(context.Background(), Message{To: "a@x.com", Subject: "s", Body: "b"}))
}
