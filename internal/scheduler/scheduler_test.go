package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/moh-dwh/immunization-etl/internal/etl"
)

func TestRunOnce(t *testing.T) {
	want := &etl.RunSummary{RunID: uuid.New(), TotalProcessed: 3}
	runner := NewRunner(func(ctx context.Context) (*etl.RunSummary, error) {
		return want, nil
	})

	got, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("summary not returned")
	}
	if runner.LastSummary() != want {
		t.Error("last summary not recorded")
	}
	if runner.InFlight() {
		t.Error("guard not released after completion")
	}
}

func TestRunOnceSingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	runner := NewRunner(func(ctx context.Context) (*etl.RunSummary, error) {
		close(started)
		<-release
		return &etl.RunSummary{}, nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.RunOnce(context.Background())
	}()

	<-started
	if !runner.InFlight() {
		t.Error("expected a run in flight")
	}
	if _, err := runner.RunOnce(context.Background()); !errors.Is(err, ErrRunInFlight) {
		t.Errorf("got %v, want ErrRunInFlight", err)
	}

	close(release)
	wg.Wait()

	if runner.InFlight() {
		t.Error("guard not released")
	}
}

func TestRunOnceReleasesGuardOnError(t *testing.T) {
	runErr := errors.New("source down")
	runner := NewRunner(func(ctx context.Context) (*etl.RunSummary, error) {
		return nil, runErr
	})

	if _, err := runner.RunOnce(context.Background()); !errors.Is(err, runErr) {
		t.Fatalf("got %v", err)
	}
	if runner.InFlight() {
		t.Error("guard must be released after a failed run")
	}

	// A second run must be possible
	if _, err := runner.RunOnce(context.Background()); !errors.Is(err, runErr) {
		t.Errorf("second run: got %v", err)
	}
}

func TestTriggerAsync(t *testing.T) {
	done := make(chan struct{})
	runner := NewRunner(func(ctx context.Context) (*etl.RunSummary, error) {
		defer close(done)
		return &etl.RunSummary{TotalProcessed: 1}, nil
	})

	if !runner.TriggerAsync(context.Background()) {
		t.Fatal("trigger refused with no run in flight")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered run never executed")
	}
}

func TestTriggerAsyncRefusedWhileBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	runner := NewRunner(func(ctx context.Context) (*etl.RunSummary, error) {
		close(started)
		<-release
		return &etl.RunSummary{}, nil
	})

	if !runner.TriggerAsync(context.Background()) {
		t.Fatal("first trigger refused")
	}
	<-started

	if runner.TriggerAsync(context.Background()) {
		t.Error("second trigger must be refused while busy")
	}
	close(release)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	var mu sync.Mutex
	runs := 0
	runner := NewRunner(func(ctx context.Context) (*etl.RunSummary, error) {
		mu.Lock()
		runs++
		mu.Unlock()
		return &etl.RunSummary{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Start(ctx, time.Hour)
	}()

	// The first run fires immediately; give it a moment, then cancel
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := runs
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("immediate run never happened")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
