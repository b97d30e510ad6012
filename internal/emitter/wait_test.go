package emitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacingDelay(t *testing.T) {
	tests := []struct {
		name    string
		deltaMs int64
		speed   int64
		wantMs  int64
	}{
		{"zero gap", 0, 1, 0},
		{"identity speed", 1000, 1, 1000},
		{"halved", 1000, 2, 500},
		{"floors odd", 999, 2, 499},
		{"floors to zero", 1, 3, 0},
		{"exact multiple", 7, 7, 1},
		{"large speed", 3600000, 1000, 3600},
		{"negative gap", -500, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PacingDelay(t0, at(tt.deltaMs), tt.speed)
			assert.Equal(t, tt.wantMs, got.Milliseconds())
		})
	}
}

func TestPacingDelay_FloorProperty(t *testing.T) {
	for _, d := range []int64{0, 1, 2, 99, 1000, 1001, 86399999} {
		for _, s := range []int64{1, 2, 3, 10, 97} {
			t.Run(fmt.Sprintf("d=%d/s=%d", d, s), func(t *testing.T) {
				w := PacingDelay(t0, at(d), s).Milliseconds()
				assert.LessOrEqual(t, w*s, d)
				assert.Greater(t, (w+1)*s, d)
			})
		}
	}
}

func TestPacingDelay_IgnoresSubMillisecond(t *testing.T) {
	next := t0.Add(1500 * time.Microsecond)
	assert.Equal(t, time.Millisecond, PacingDelay(t0, next, 1))
}

func TestTimerWaiter_Elapses(t *testing.T) {
	start := time.Now()
	require.NoError(t, TimerWaiter{}.Wait(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestTimerWaiter_ZeroWait(t *testing.T) {
	require.NoError(t, TimerWaiter{}.Wait(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := TimerWaiter{}.Wait(ctx, 0)
	assert.True(t, IsInterrupted(err))
}

func TestTimerWaiter_InterruptedPromptly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var err error
	wg.Add(1)
	go func() {
		defer wg.Done()
		err = TimerWaiter{}.Wait(ctx, time.Hour)
	}()

	time.Sleep(10 * time.Millisecond)
	start := time.Now()
	cancel()
	wg.Wait()

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, IsInterrupted(err))
}

func TestReplayError_Format(t *testing.T) {
	cause := errors.New("unexpected token")
	err := NewDecodeError("events.jsonl", 42, cause)

	assert.Equal(t,
		"DECODE: decode: raw unit could not be decoded (source=events.jsonl, line=42): unexpected token",
		err.Error())
	assert.ErrorIs(t, err, cause)

	res := NewResourceError("open", "events.jsonl", "input could not be opened", nil)
	assert.Equal(t, "RESOURCE: open: input could not be opened (source=events.jsonl)", res.Error())

	cfg := NewConfigurationError("speed factor must be >= 1, got 0")
	assert.Equal(t, "CONFIGURATION: new: speed factor must be >= 1, got 0", cfg.Error())
}

func TestErrorHelpers_SeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("replay: %w", NewSinkError("s", 1, errors.New("full")))

	assert.True(t, IsSinkError(wrapped))
	assert.False(t, IsDecodeError(wrapped))
	assert.False(t, IsResourceError(errors.New("plain")))
	assert.False(t, IsInterrupted(nil))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "exhausted", StateExhausted.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRunning.Terminal())
}

func TestClock_Monotonic(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(3), c.Next())
}

func TestClock_ConcurrentUnique(t *testing.T) {
	c := NewClock()
	const n = 50
	seen := make(chan int64, n*100)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				seen <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for s := range seen {
		require.False(t, unique[s], "duplicate seq %d", s)
		unique[s] = true
	}
	assert.Len(t, unique, n*100)
}
