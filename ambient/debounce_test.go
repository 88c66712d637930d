package ambient

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int32
	for i := 0; i < 10; i++ {
		d.Trigger(func() { fired.Add(1) })
	}

	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 2*time.Millisecond)

	// No further firings after the window.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestDebouncerLastFunctionWins(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var value atomic.Int32
	d.Trigger(func() { value.Store(1) })
	d.Trigger(func() { value.Store(2) })
	d.Trigger(func() { value.Store(3) })

	require.Eventually(t, func() bool {
		return value.Load() == 3
	}, time.Second, 2*time.Millisecond)
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	var fired atomic.Int32
	d.Trigger(func() { fired.Add(1) })
	d.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestDebouncerSeparateTriggersFireSeparately(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int32
	d.Trigger(func() { fired.Add(1) })
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 2*time.Millisecond)

	d.Trigger(func() { fired.Add(1) })
	require.Eventually(t, func() bool { return fired.Load() == 2 }, time.Second, 2*time.Millisecond)
}
