package runtime

import (
	"context"
	"testing"
	"time"
)

func TestLoopTimerOrdering(t *testing.T) {
	clock := newFakeClock()
	c := newServing(t, newFakeAsync(clock), clock)
	l := c.Loop()

	var got []string
	l.AddTimer(20*time.Millisecond, false, func() { got = append(got, "b1") })
	l.AddTimer(10*time.Millisecond, false, func() { got = append(got, "a") })
	l.AddTimer(20*time.Millisecond, false, func() { got = append(got, "b2") })
	l.AddTimer(0, false, func() { got = append(got, "now") })

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"now", "a", "b1", "b2"}
	if len(got) != len(want) {
		t.Fatalf("fired %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fired %v, want %v", got, want)
			break
		}
	}
}

func TestLoopRemoveTimer(t *testing.T) {
	clock := newFakeClock()
	c := newServing(t, newFakeAsync(clock), clock)
	l := c.Loop()

	fired := false
	tm := l.AddTimer(5*time.Millisecond, false, func() { fired = true })
	if !l.RemoveTimer(tm) {
		t.Fatal("RemoveTimer on scheduled timer returned false")
	}
	if l.RemoveTimer(tm) {
		t.Error("second RemoveTimer should be a no-op")
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fired {
		t.Error("removed timer fired")
	}

	done := l.AddTimer(time.Millisecond, false, func() {})
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if done.Active() || l.RemoveTimer(done) {
		t.Error("RemoveTimer on fired timer should be a no-op")
	}
}

func TestLoopRepeatTimer(t *testing.T) {
	clock := newFakeClock()
	c := newServing(t, newFakeAsync(clock), clock)
	l := c.Loop()

	count := 0
	var tm *Timer
	tm = l.AddTimer(10*time.Millisecond, true, func() {
		count++
		if count == 3 {
			l.RemoveTimer(tm)
		}
	})
	start := clock.now
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 3 {
		t.Errorf("fired %d times, want 3", count)
	}
	if got := clock.now.Sub(start); got != 30*time.Millisecond {
		t.Errorf("elapsed %v, want 30ms", got)
	}
}

func TestLoopAwaitHandle(t *testing.T) {
	clock := newFakeClock()
	host := newFakeAsync(clock)
	host.readyAt[4] = clock.now.Add(5 * time.Millisecond)
	c := newServing(t, host, clock)
	l := c.Loop()

	var order []string
	l.Enqueue(func() { order = append(order, "queued") })
	l.AddTimer(20*time.Millisecond, false, func() { order = append(order, "timer") })
	l.Await(HandleTask(4), func() {
		order = append(order, "handle")
		delete(host.readyAt, 4)
	})

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"queued", "handle", "timer"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if !l.Idle() {
		t.Error("loop not idle after Run")
	}
}

func TestLoopRunHonorsContext(t *testing.T) {
	clock := newFakeClock()
	c := newServing(t, newFakeAsync(clock), clock)
	c.Loop().AddTimer(time.Hour, false, func() {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Loop().Run(ctx); err != context.Canceled {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestContextCloseClearsLoop(t *testing.T) {
	clock := newFakeClock()
	c := newServing(t, newFakeAsync(clock), clock)
	tm := c.Loop().AddTimer(time.Second, false, func() {})
	c.Loop().Enqueue(func() {})
	c.Close()
	if !c.Loop().Idle() || tm.Active() {
		t.Error("Close left work scheduled")
	}
}
