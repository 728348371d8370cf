package occupancy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(seconds int) time.Time {
	return time.Unix(0, 0).UTC().Add(time.Duration(seconds) * time.Second)
}

func TestTrigger_ThenTickSameInstant_IsOccupied(t *testing.T) {
	cfg := DefaultConfig()
	s, err := Trigger(Zero(), cfg, 300*time.Second, at(0))
	require.NoError(t, err)
	s = Tick(s, at(0))
	assert.True(t, s.IsOccupied)
}

func TestHold_AppliedTwice_IsIdempotent(t *testing.T) {
	once := Hold(Zero(), "p1", at(0))
	twice := Hold(once, "p1", at(0))
	assert.Equal(t, once.ActiveHolds, twice.ActiveHolds)
	assert.True(t, twice.IsOccupied)
}

func TestRelease_NeverHeld_IsIdentity(t *testing.T) {
	cfg := DefaultConfig()
	prev := Zero()
	next, err := Release(prev, cfg, "ghost", 0, at(0))
	require.NoError(t, err)
	assert.Equal(t, prev, next)
}

func TestLockUnlock_SameSource_ResumesShiftedTimer(t *testing.T) {
	cfg := DefaultConfig()
	s, err := Trigger(Zero(), cfg, 600*time.Second, at(0))
	require.NoError(t, err)
	require.NotNil(t, s.OccupiedUntil)

	s = Lock(s, "vacation", at(100))
	assert.Nil(t, s.OccupiedUntil)
	require.NotNil(t, s.TimerRemaining)
	assert.Equal(t, 500*time.Second, *s.TimerRemaining)

	s = Unlock(s, "vacation", at(10000))
	require.NotNil(t, s.OccupiedUntil)
	assert.Equal(t, at(10500), *s.OccupiedUntil)
	assert.Nil(t, s.TimerRemaining)
}

func TestTrigger_ExtendsNeverShortens(t *testing.T) {
	cfg := DefaultConfig()
	s, err := Trigger(Zero(), cfg, 100*time.Second, at(0))
	require.NoError(t, err)
	require.Equal(t, at(100), *s.OccupiedUntil)

	s, err = Trigger(s, cfg, 50*time.Second, at(0))
	require.NoError(t, err)
	assert.Equal(t, at(100), *s.OccupiedUntil, "a shorter pulse must not shorten the deadline")

	s, err = Trigger(s, cfg, 200*time.Second, at(0))
	require.NoError(t, err)
	assert.Equal(t, at(200), *s.OccupiedUntil, "a longer pulse must extend the deadline")
}

func TestVacate_ClearsEverythingButLocks(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := Trigger(Zero(), cfg, 100*time.Second, at(0))
	s = Hold(s, "p1", at(0))

	s = Vacate(s)
	assert.False(t, s.IsOccupied)
	assert.Nil(t, s.OccupiedUntil)
	assert.Nil(t, s.TimerRemaining)
	assert.Empty(t, s.ActiveHolds)
}

func TestTrigger_NegativeTimeout_IsValidationError(t *testing.T) {
	_, err := Trigger(Zero(), DefaultConfig(), -1*time.Second, at(0))
	require.Error(t, err)
}

func TestTrigger_DroppedWhileLocked(t *testing.T) {
	s := Lock(Zero(), "cleaning", at(0))
	next, err := Trigger(s, DefaultConfig(), 100*time.Second, at(0))
	require.NoError(t, err)
	assert.Equal(t, s, next)
}

func TestHoldReleaseScenario_TrailingTimeoutWinsWhenTimerAlreadyPast(t *testing.T) {
	cfg := DefaultConfig()

	// t=0: TRIGGER(m1, 60) -> occupied_until = 60
	s, err := Trigger(Zero(), cfg, 60*time.Second, at(0))
	require.NoError(t, err)

	// t=10: HOLD(p1)
	s = Hold(s, "p1", at(10))
	require.NotNil(t, s.OccupiedUntil)
	assert.Equal(t, at(60), *s.OccupiedUntil)

	// t=100: RELEASE(p1, trailing_timeout=30): occupied_until(60) is in the
	// past relative to now(100), so the trailing timeout wins: 130.
	s, err = Release(s, cfg, "p1", 30*time.Second, at(100))
	require.NoError(t, err)
	require.NotNil(t, s.OccupiedUntil)
	assert.Equal(t, at(130), *s.OccupiedUntil)

	s = Tick(s, at(131))
	assert.False(t, s.IsOccupied)
}

func TestLockScenario_NoExpiryFiresWhileLocked(t *testing.T) {
	cfg := DefaultConfig()

	s, err := Trigger(Zero(), cfg, 600*time.Second, at(0))
	require.NoError(t, err)

	s = Lock(s, "vacation", at(100))

	// The original deadline (t=600) passes while locked: Tick must be a no-op.
	s = Tick(s, at(600))
	assert.True(t, s.IsOccupied)
	assert.Nil(t, s.OccupiedUntil)

	s = Unlock(s, "vacation", at(10000))
	require.NotNil(t, s.OccupiedUntil)
	assert.Equal(t, at(10500), *s.OccupiedUntil)

	s = Tick(s, at(10501))
	assert.False(t, s.IsOccupied)
}
