package lookup

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestLimiterSlidingWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := NewLimiter(2, time.Minute)
	l.now = clock.now

	if d := l.reserve(); d != 0 {
		t.Fatalf("first reserve waited %v", d)
	}
	clock.t = clock.t.Add(10 * time.Second)
	if d := l.reserve(); d != 0 {
		t.Fatalf("second reserve waited %v", d)
	}
	if d := l.reserve(); d != 50*time.Second {
		t.Fatalf("third reserve = %v, want 50s", d)
	}

	clock.t = clock.t.Add(50 * time.Second)
	if d := l.reserve(); d != 0 {
		t.Fatalf("reserve after oldest expired waited %v", d)
	}
}

func TestLimiterPause(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := NewLimiter(100, time.Minute)
	l.now = clock.now

	l.Pause(30 * time.Second)
	if d := l.reserve(); d != 30*time.Second {
		t.Fatalf("reserve during pause = %v, want 30s", d)
	}
	l.Pause(5 * time.Second)
	if d := l.reserve(); d != 30*time.Second {
		t.Fatalf("shorter pause must not shrink the longer one, got %v", d)
	}
	clock.t = clock.t.Add(30 * time.Second)
	if d := l.reserve(); d != 0 {
		t.Fatalf("reserve after pause = %v", d)
	}
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := NewLimiter(1, time.Hour)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected context error while window is full")
	}
}

func TestNilLimiterNeverBlocks(t *testing.T) {
	var l *Limiter
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.Pause(time.Hour)
}
