package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepBoundary(t *testing.T) {
	clock := newFakeClock()
	obs := &recordingObserver{}
	r := New(WithClock(clock.Now), WithTTL(time.Hour), WithObserver(obs))

	r.Join("m1", session("a", "c-a"))

	clock.Advance(time.Hour - time.Second)
	assert.Empty(t, r.Sweep())
	assert.True(t, r.Has("m1"))

	clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"m1"}, r.Sweep())
	assert.False(t, r.Has("m1"))

	_, ok := r.ResolveConnection("m1", "a")
	assert.False(t, ok)
	_, ok = r.Binding("c-a")
	assert.False(t, ok)

	assert.Equal(t, []string{"m1"}, obs.evicted)
	assert.Empty(t, obs.left, "eviction sends no leave notifications")
}

func TestTouchKeepsRoomAlive(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now), WithTTL(time.Hour))

	r.Join("m1", session("a", "c-a"))
	r.Join("m2", session("b", "c-b"))

	clock.Advance(50 * time.Minute)
	r.Touch("m1")
	clock.Advance(20 * time.Minute)

	assert.Equal(t, []string{"m2"}, r.Sweep())
	assert.True(t, r.Has("m1"))
}

func TestJoinAfterEvictionCreatesFreshRoom(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now), WithTTL(time.Minute))

	r.Join("m1", session("a", "c-a"))
	clock.Advance(2 * time.Minute)
	r.Sweep()

	res := r.Join("m1", session("b", "c-b"))
	assert.Empty(t, res.Roster)
	assert.Len(t, r.Participants("m1"), 1)
}

func TestStartStop(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now), WithTTL(time.Minute), WithSweepInterval(5*time.Millisecond))
	r.Join("m1", session("a", "c-a"))
	clock.Advance(2 * time.Minute)

	r.Start(context.Background())
	require.Eventually(t, func() bool { return !r.Has("m1") }, time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop()

	r.Join("m2", session("b", "c-b"))
	clock.Advance(2 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, r.Has("m2"), "stopped reaper must not sweep")
}
