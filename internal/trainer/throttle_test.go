package trainer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// throttlerAt returns a throttler with a controllable clock.
func throttlerAt(start time.Time) (*Throttler, *time.Time) {
	now := start
	th := NewThrottler(10 * time.Second)
	th.now = func() time.Time { return now }
	return th, &now
}

func TestThrottler_FirstSendAlwaysGoesThrough(t *testing.T) {
	th, _ := throttlerAt(time.Unix(1000, 0))
	assert.True(t, th.ShouldSend(ErgTarget(200)))
}

func TestThrottler_IdenticalTargetWithinHeartbeatIsSuppressed(t *testing.T) {
	th, now := throttlerAt(time.Unix(1000, 0))

	assert.True(t, th.ShouldSend(ErgTarget(200)))
	*now = now.Add(3 * time.Second)
	assert.False(t, th.ShouldSend(ErgTarget(200)))
	*now = now.Add(3 * time.Second)
	assert.False(t, th.ShouldSend(ErgTarget(200)))
}

func TestThrottler_HeartbeatResendsAfterTenSeconds(t *testing.T) {
	th, now := throttlerAt(time.Unix(1000, 0))

	assert.True(t, th.ShouldSend(ErgTarget(200)))
	*now = now.Add(10 * time.Second)
	assert.True(t, th.ShouldSend(ErgTarget(200)))
}

func TestThrottler_ValueChangeAlwaysSends(t *testing.T) {
	th, now := throttlerAt(time.Unix(1000, 0))

	assert.True(t, th.ShouldSend(ErgTarget(200)))
	*now = now.Add(1 * time.Second)
	assert.True(t, th.ShouldSend(ErgTarget(210)))
	assert.False(t, th.ShouldSend(ErgTarget(210)))
}

func TestThrottler_KindChangeAlwaysSends(t *testing.T) {
	th, now := throttlerAt(time.Unix(1000, 0))

	assert.True(t, th.ShouldSend(ErgTarget(200)))
	*now = now.Add(1 * time.Second)
	assert.True(t, th.ShouldSend(ResistanceTarget(40)))
	*now = now.Add(1 * time.Second)
	assert.True(t, th.ShouldSend(ErgTarget(200)))
}

func TestThrottler_ForceOverridesSuppression(t *testing.T) {
	th, now := throttlerAt(time.Unix(1000, 0))

	assert.True(t, th.ShouldSend(ErgTarget(200)))
	*now = now.Add(1 * time.Second)
	assert.False(t, th.ShouldSend(ErgTarget(200)))

	th.Force()
	assert.True(t, th.ShouldSend(ErgTarget(200)))
	// Force is one-shot
	assert.False(t, th.ShouldSend(ErgTarget(200)))
}

func TestThrottler_ResetForgetsHistory(t *testing.T) {
	th, now := throttlerAt(time.Unix(1000, 0))

	assert.True(t, th.ShouldSend(ErgTarget(200)))
	*now = now.Add(1 * time.Second)
	assert.False(t, th.ShouldSend(ErgTarget(200)))

	th.Reset()
	assert.True(t, th.ShouldSend(ErgTarget(200)))
}
