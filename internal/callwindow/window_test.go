package callwindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentAt = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return appointmentAt.Add(offset)
}

func TestEvaluate_TooEarly(t *testing.T) {
	for _, delta := range []int{16, 20, 45, 24 * 60} {
		st := Evaluate(at(-time.Duration(delta)*time.Minute), appointmentAt)
		assert.Equal(t, PhaseTooEarly, st.Status, "delta=%d", delta)
		assert.False(t, st.CanStartCall, "delta=%d", delta)
		require.NotNil(t, st.MinutesUntilAvailable, "delta=%d", delta)
		assert.Equal(t, delta-BeforeWindowMinutes, *st.MinutesUntilAvailable, "delta=%d", delta)
		assert.Nil(t, st.MinutesUntilExpiry)
	}
}

func TestEvaluate_Active(t *testing.T) {
	for delta := -60; delta <= 15; delta++ {
		st := Evaluate(at(-time.Duration(delta)*time.Minute), appointmentAt)
		assert.Equal(t, PhaseActive, st.Status, "delta=%d", delta)
		assert.True(t, st.CanStartCall, "delta=%d", delta)
		require.NotNil(t, st.MinutesUntilExpiry, "delta=%d", delta)
		assert.Equal(t, max(0, 60+delta), *st.MinutesUntilExpiry, "delta=%d", delta)
		assert.Nil(t, st.MinutesUntilAvailable)
	}
}

func TestEvaluate_Expired(t *testing.T) {
	for _, delta := range []int{-61, -70, -600} {
		st := Evaluate(at(-time.Duration(delta)*time.Minute), appointmentAt)
		assert.Equal(t, PhaseExpired, st.Status, "delta=%d", delta)
		assert.False(t, st.CanStartCall, "delta=%d", delta)
		assert.Nil(t, st.MinutesUntilAvailable)
		assert.Nil(t, st.MinutesUntilExpiry)
	}
}

func TestEvaluate_EdgesAreActive(t *testing.T) {
	early := Evaluate(at(-15*time.Minute), appointmentAt)
	assert.Equal(t, PhaseActive, early.Status)

	late := Evaluate(at(60*time.Minute), appointmentAt)
	assert.Equal(t, PhaseActive, late.Status)
	require.NotNil(t, late.MinutesUntilExpiry)
	assert.Equal(t, 0, *late.MinutesUntilExpiry)
}

func TestEvaluate_FloorsPartialMinutes(t *testing.T) {
	// 60m30s after the appointment floors to -61.
	st := Evaluate(at(60*time.Minute+30*time.Second), appointmentAt)
	assert.Equal(t, PhaseExpired, st.Status)

	// 15m30s before floors to 15.
	st = Evaluate(at(-(15*time.Minute + 30*time.Second)), appointmentAt)
	assert.Equal(t, PhaseActive, st.Status)
}

func TestEvaluate_AppointmentScenario(t *testing.T) {
	st := Evaluate(at(-20*time.Minute), appointmentAt)
	assert.Equal(t, PhaseTooEarly, st.Status)
	require.NotNil(t, st.MinutesUntilAvailable)
	assert.Equal(t, 5, *st.MinutesUntilAvailable)

	st = Evaluate(at(-10*time.Minute), appointmentAt)
	assert.Equal(t, PhaseActive, st.Status)
	assert.True(t, st.CanStartCall)
	require.NotNil(t, st.MinutesUntilExpiry)
	assert.Equal(t, 70, *st.MinutesUntilExpiry)

	st = Evaluate(at(70*time.Minute), appointmentAt)
	assert.Equal(t, PhaseExpired, st.Status)
}

func TestParseAppointmentTime(t *testing.T) {
	got, err := ParseAppointmentTime("2026-03-10T18:00:00+09:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(appointmentAt))

	got, err = ParseAppointmentTime("2026-03-10T09:00:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(appointmentAt))

	for _, bad := range []string{"", "  ", "tomorrow", "2026-13-40T99:00:00Z"} {
		_, err := ParseAppointmentTime(bad)
		assert.ErrorIs(t, err, ErrInvalidAppointmentTime, "input=%q", bad)
	}
}
