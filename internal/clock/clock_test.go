package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFunc(t *testing.T) {
	c := NewFake(epoch)
	fired := 0
	c.AfterFunc(5*time.Second, func() { fired++ })

	c.Advance(4 * time.Second)
	assert.Equal(t, 0, fired)
	c.Advance(time.Second)
	assert.Equal(t, 1, fired)
	c.Advance(time.Hour)
	assert.Equal(t, 1, fired)
	assert.Equal(t, epoch.Add(time.Hour+5*time.Second), c.Now())
}

func TestFakeTimerStop(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	c.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeTimerSeesItsOwnTime(t *testing.T) {
	c := NewFake(epoch)
	var at time.Time
	c.AfterFunc(3*time.Second, func() { at = c.Now() })
	c.Advance(10 * time.Second)
	assert.Equal(t, epoch.Add(3*time.Second), at)
}

func TestFakeAfter(t *testing.T) {
	c := NewFake(epoch)
	ch := c.After(2 * time.Second)
	assert.Equal(t, 1, c.Pending())

	c.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("delivered early")
	default:
	}

	c.Advance(time.Second)
	select {
	case at := <-ch:
		assert.Equal(t, epoch.Add(2*time.Second), at)
	default:
		t.Fatal("not delivered")
	}
	assert.Zero(t, c.Pending())
}

func TestFakeTimerCanRearm(t *testing.T) {
	c := NewFake(epoch)
	var times []time.Time
	var arm func()
	arm = func() {
		c.AfterFunc(time.Second, func() {
			times = append(times, c.Now())
			if len(times) < 3 {
				arm()
			}
		})
	}
	arm()
	c.Advance(10 * time.Second)
	assert.Len(t, times, 3)
	assert.Equal(t, epoch.Add(3*time.Second), times[2])
}

func TestFakeTicker(t *testing.T) {
	c := NewFake(epoch)
	tk := c.NewTicker(time.Hour)

	c.Advance(59 * time.Minute)
	select {
	case <-tk.C():
		t.Fatal("ticked early")
	default:
	}

	c.Advance(time.Minute)
	select {
	case got := <-tk.C():
		assert.Equal(t, epoch.Add(time.Hour), got)
	default:
		t.Fatal("expected tick")
	}

	tk.Stop()
	c.Advance(3 * time.Hour)
	select {
	case <-tk.C():
		t.Fatal("ticked after stop")
	default:
	}
}
