package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdvanceWakesTicker(t *testing.T) {
	clk := NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	tick := clk.Tick(time.Minute)

	select {
	case <-tick:
		t.Fatal("ticker fired before advance")
	default:
	}

	clk.Advance(time.Minute)
	select {
	case ts := <-tick:
		assert.Equal(t, clk.Now(), ts)
	default:
		t.Fatal("ticker did not fire after advance")
	}
}

func TestFakeAdvanceMultipleIntervals(t *testing.T) {
	clk := NewFake(time.Unix(0, 0))
	tick := clk.Tick(time.Second)

	clk.Advance(3 * time.Second)

	fired := 0
	for {
		select {
		case <-tick:
			fired++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 3, fired)
}

func TestEveryRunsImmediately(t *testing.T) {
	clk := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		Every(ctx, clk, time.Minute, func(context.Context) {
			runs.Add(1)
		})
	}()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	<-done
}
