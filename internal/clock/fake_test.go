package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_NowStandsStill(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := Fake(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start, c.Now())
}

func TestFake_AfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := Fake(start)

	ch := c.After(5 * time.Second)
	assert.Equal(t, 1, c.Pending())

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case fired := <-ch:
		assert.Equal(t, start.Add(5*time.Second), fired)
	default:
		t.Fatal("did not fire at deadline")
	}
	assert.Equal(t, 0, c.Pending())
}

func TestFake_AfterNonPositiveFiresImmediately(t *testing.T) {
	c := Fake(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
	assert.Equal(t, 0, c.Pending())
}

func TestFake_WaitForTimers(t *testing.T) {
	c := Fake(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	done := make(chan struct{})
	go func() {
		<-c.After(time.Minute)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "waiter goroutine was not released")
	}
}
