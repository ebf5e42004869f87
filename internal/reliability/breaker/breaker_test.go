package breaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/kestrelsoft/hxpipe/internal/metadata"
	"github.com/kestrelsoft/hxpipe/internal/reliability/breaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	transitions []string
}

func (r *recordingSink) RecordError(observedAt time.Time, packageName string, action string, cause metadata.ErrorCause, errString string, attrs []metadata.Attribute) {
	r.transitions = append(r.transitions, errString)
}

func testParams() breaker.Params {
	return breaker.Params{
		FailureThreshold:    0.5,
		MinRequests:         4,
		WindowSize:          4,
		OpenCooldown:        20 * time.Millisecond,
		HalfOpenMaxInFlight: 1,
	}
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	sink := &recordingSink{}
	reg := breaker.NewRegistry(testParams(), sink)
	b := reg.Get("fetch")

	for i := 0; i < 4; i++ {
		require.True(t, b.Allow())
		b.Report(true)
	}
	assert.Equal(t, breaker.Closed, b.State())
}

func TestBreaker_TripsOpenAboveThreshold(t *testing.T) {
	sink := &recordingSink{}
	reg := breaker.NewRegistry(testParams(), sink)
	b := reg.Get("fetch")

	// 3 failures, 1 success out of 4 => 75% failure rate, above 50% threshold
	for i := 0; i < 3; i++ {
		require.True(t, b.Allow())
		b.Report(false)
	}
	require.True(t, b.Allow())
	b.Report(true)

	assert.Equal(t, breaker.Open, b.State())
	assert.False(t, b.Allow())
	assert.Contains(t, sink.transitions, "closed -> open")
}

func TestBreaker_HalfOpenAfterCooldownThenCloses(t *testing.T) {
	sink := &recordingSink{}
	reg := breaker.NewRegistry(testParams(), sink)
	b := reg.Get("fetch")

	for i := 0; i < 4; i++ {
		require.True(t, b.Allow())
		b.Report(false)
	}
	require.Equal(t, breaker.Open, b.State())

	time.Sleep(30 * time.Millisecond)

	require.True(t, b.Allow())
	b.Report(true)
	assert.Equal(t, breaker.Closed, b.State())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	sink := &recordingSink{}
	reg := breaker.NewRegistry(testParams(), sink)
	b := reg.Get("fetch")

	for i := 0; i < 4; i++ {
		require.True(t, b.Allow())
		b.Report(false)
	}
	time.Sleep(30 * time.Millisecond)

	require.True(t, b.Allow())
	b.Report(false)
	assert.Equal(t, breaker.Open, b.State())
}

func TestBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	sink := &recordingSink{}
	params := testParams()
	params.HalfOpenMaxInFlight = 1
	reg := breaker.NewRegistry(params, sink)
	b := reg.Get("fetch")

	for i := 0; i < 4; i++ {
		require.True(t, b.Allow())
		b.Report(false)
	}
	time.Sleep(30 * time.Millisecond)

	assert.True(t, b.Allow())
	assert.False(t, b.Allow()) // second concurrent probe denied
}

func TestRun_FastFailsWhenOpen(t *testing.T) {
	sink := &recordingSink{}
	reg := breaker.NewRegistry(testParams(), sink)

	for i := 0; i < 4; i++ {
		_, _ = breaker.Run(reg, "extract", func() (int, error) {
			return 0, errors.New("boom")
		})
	}

	_, err := breaker.Run(reg, "extract", func() (int, error) {
		return 1, nil
	})
	require.Error(t, err)
	var openErr *breaker.ErrCircuitOpen
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "extract", openErr.Name)
}

func TestRun_Success(t *testing.T) {
	sink := &recordingSink{}
	reg := breaker.NewRegistry(testParams(), sink)

	result, err := breaker.Run(reg, "extract", func() (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}
