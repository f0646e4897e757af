package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	c := NewFake(epoch)
	fired := 0
	c.AfterFunc(5*time.Minute, func() { fired++ })

	c.Advance(4 * time.Minute)
	assert.Equal(t, 0, fired)

	c.Advance(time.Minute)
	assert.Equal(t, 1, fired)

	c.Advance(time.Hour)
	assert.Equal(t, 1, fired, "one-shot timer fired twice")
}

func TestFakeStoppedTimerNeverFires(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeTickerAndAfter(t *testing.T) {
	c := NewFake(epoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()
	after := c.After(2 * time.Second)

	c.Advance(time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("expected tick")
	}
	select {
	case <-after:
		t.Fatal("After fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-after:
		assert.Equal(t, epoch.Add(2*time.Second), got)
	default:
		t.Fatal("expected After to fire")
	}
}

func TestFakeCallbackStopsLaterTimer(t *testing.T) {
	c := NewFake(epoch)
	var order []string
	var b *Timer
	c.AfterFunc(time.Second, func() {
		order = append(order, "a")
		assert.True(t, b.Stop())
	})
	b = c.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"a"}, order)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "late") })
	c.AfterFunc(1500*time.Millisecond, func() {
		order = append(order, "mid")
		// the 1s tick was delivered before this callback
		assert.Len(t, ticker.C, 1)
	})
	c.AfterFunc(500*time.Millisecond, func() {
		order = append(order, "early")
		assert.Len(t, ticker.C, 0)
	})

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"early", "mid", "late"}, order)
	assert.Equal(t, 1, c.Pending(), "only the ticker stays armed")
}
