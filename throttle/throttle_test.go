package throttle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testThrottle(t *testing.T, opts Options) *Throttle {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(opts, logger)
}

func TestWaitEnforcesMinimumInterval(t *testing.T) {
	opts := DefaultOptions()
	opts.MinDelay = 50 * time.Millisecond
	th := testThrottle(t, opts)

	ctx := context.Background()
	if err := th.Wait(ctx, "en:wikipedia"); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}
	th.RecordDispatch("en:wikipedia")
	first := time.Now()

	if err := th.Wait(ctx, "en:wikipedia"); err != nil {
		t.Fatalf("second wait failed: %v", err)
	}
	elapsed := time.Since(first)

	if elapsed < opts.MinDelay {
		t.Errorf("consecutive dispatches %v apart, want >= %v", elapsed, opts.MinDelay)
	}
}

func TestIndependentSitesDoNotBlock(t *testing.T) {
	opts := DefaultOptions()
	opts.MinDelay = 500 * time.Millisecond
	th := testThrottle(t, opts)

	ctx := context.Background()
	if err := th.Wait(ctx, "en:wikipedia"); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	start := time.Now()
	if err := th.Wait(ctx, "de:wikipedia"); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("wait for a different site took %v, expected no blocking", elapsed)
	}
}

func TestReportLagIncreasesDelay(t *testing.T) {
	opts := DefaultOptions()
	opts.MinDelay = 10 * time.Millisecond
	opts.MaxDelay = 200 * time.Millisecond
	th := testThrottle(t, opts)

	before := th.Delay("en:wikipedia")
	th.ReportLag("en:wikipedia", 80*time.Millisecond)
	after := th.Delay("en:wikipedia")

	if after <= before {
		t.Errorf("delay did not increase: before=%v after=%v", before, after)
	}
	if after != 80*time.Millisecond {
		t.Errorf("delay = %v, want lag value 80ms", after)
	}
}

func TestReportLagCapsAtCeiling(t *testing.T) {
	opts := DefaultOptions()
	opts.MinDelay = 10 * time.Millisecond
	opts.MaxDelay = 100 * time.Millisecond
	th := testThrottle(t, opts)

	for i := 0; i < 10; i++ {
		th.ReportLag("en:wikipedia", 5*time.Second)
	}

	if got := th.Delay("en:wikipedia"); got != opts.MaxDelay {
		t.Errorf("delay = %v, want ceiling %v", got, opts.MaxDelay)
	}
}

func TestDelayNeverNegative(t *testing.T) {
	th := testThrottle(t, DefaultOptions())
	th.ReportLag("en:wikipedia", -3*time.Second)
	if got := th.Delay("en:wikipedia"); got < 0 {
		t.Errorf("delay = %v, want >= 0", got)
	}
}

func TestFastStreakDecaysDelay(t *testing.T) {
	opts := DefaultOptions()
	opts.MinDelay = 10 * time.Millisecond
	opts.MaxDelay = time.Second
	opts.DecayAfter = 3
	opts.DecayFactor = 0.5
	th := testThrottle(t, opts)

	th.ReportLag("en:wikipedia", 800*time.Millisecond)
	inflated := th.Delay("en:wikipedia")

	// Two fast responses: streak too short, no decay yet.
	th.ReportFast("en:wikipedia")
	th.ReportFast("en:wikipedia")
	if got := th.Delay("en:wikipedia"); got != inflated {
		t.Fatalf("delay decayed too early: %v", got)
	}

	// Third fast response crosses the streak threshold.
	th.ReportFast("en:wikipedia")
	if got := th.Delay("en:wikipedia"); got >= inflated {
		t.Errorf("delay = %v, want < %v after fast streak", got, inflated)
	}
}

func TestDecayStopsAtFloor(t *testing.T) {
	opts := DefaultOptions()
	opts.MinDelay = 20 * time.Millisecond
	opts.DecayAfter = 1
	opts.DecayFactor = 0.1
	th := testThrottle(t, opts)

	th.ReportLag("en:wikipedia", 100*time.Millisecond)
	for i := 0; i < 20; i++ {
		th.ReportFast("en:wikipedia")
	}

	if got := th.Delay("en:wikipedia"); got != opts.MinDelay {
		t.Errorf("delay = %v, want floor %v", got, opts.MinDelay)
	}
}

func TestLagResetsFastStreak(t *testing.T) {
	opts := DefaultOptions()
	opts.MinDelay = 10 * time.Millisecond
	opts.DecayAfter = 2
	th := testThrottle(t, opts)

	th.ReportLag("en:wikipedia", 100*time.Millisecond)
	th.ReportFast("en:wikipedia")
	th.ReportLag("en:wikipedia", 100*time.Millisecond)
	inflated := th.Delay("en:wikipedia")

	// Streak restarted, a single fast response must not decay.
	th.ReportFast("en:wikipedia")
	if got := th.Delay("en:wikipedia"); got != inflated {
		t.Errorf("delay = %v, want %v (streak should have reset)", got, inflated)
	}
}

func TestWaitMaxWaitExceeded(t *testing.T) {
	opts := DefaultOptions()
	opts.MinDelay = 2 * time.Second
	opts.MaxWait = 50 * time.Millisecond
	th := testThrottle(t, opts)

	ctx := context.Background()
	if err := th.Wait(ctx, "en:wikipedia"); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}

	err := th.Wait(ctx, "en:wikipedia")
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if te.SiteKey != "en:wikipedia" {
		t.Errorf("SiteKey = %q, want en:wikipedia", te.SiteKey)
	}
}

func TestWaitContextCancellation(t *testing.T) {
	opts := DefaultOptions()
	opts.MinDelay = 5 * time.Second
	opts.MaxWait = 0
	th := testThrottle(t, opts)

	if err := th.Wait(context.Background(), "en:wikipedia"); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := th.Wait(ctx, "en:wikipedia"); err == nil {
		t.Error("expected error after context cancellation")
	}
}
