package validate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"stockwatch/internal/model"
)

func newTestValidator() *Validator {
	v := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	v.RetryDelay = time.Millisecond
	return v
}

func observation(count int) *model.Observation {
	obs := &model.Observation{Success: true, Status: model.StatusAvailable}
	for i := 0; i < count; i++ {
		obs.Entities = append(obs.Entities, model.EntitySnapshot{EntityID: string(rune('a' + i))})
	}
	return obs
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		obs      *model.Observation
		lastGood int
		wantErr  error
	}{
		{
			name:     "failed fetch",
			obs:      &model.Observation{Success: false, ErrorMessage: "timeout"},
			lastGood: 10,
			wantErr:  ErrFetchFailed,
		},
		{
			name:     "nil observation",
			obs:      nil,
			lastGood: 10,
			wantErr:  ErrFetchFailed,
		},
		{
			name:     "no history accepts anything",
			obs:      observation(0),
			lastGood: 0,
			wantErr:  nil,
		},
		{
			name:     "zero count with history",
			obs:      observation(0),
			lastGood: 5,
			wantErr:  ErrAnomalous,
		},
		{
			name:     "drop below threshold",
			obs:      observation(6),
			lastGood: 10,
			wantErr:  ErrAnomalous,
		},
		{
			name:     "drop at threshold boundary",
			obs:      observation(7),
			lastGood: 10,
			wantErr:  nil,
		},
		{
			name:     "growth",
			obs:      observation(12),
			lastGood: 10,
			wantErr:  nil,
		},
	}

	v := newTestValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Check(tt.obs, tt.lastGood)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Check() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Check() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckThresholdBoundaryIsStrict(t *testing.T) {
	v := newTestValidator()

	// 65 of 100 is below 70% and must be rejected; 75 passes.
	if err := v.Check(observation(65), 100); !errors.Is(err, ErrAnomalous) {
		t.Errorf("65 of 100 accepted, want anomalous: %v", err)
	}
	if err := v.Check(observation(75), 100); err != nil {
		t.Errorf("75 of 100 rejected: %v", err)
	}
}

func TestRunRetriesUntilAccepted(t *testing.T) {
	v := newTestValidator()

	attempts := 0
	obs, err := v.Run(context.Background(), 10, func(context.Context) *model.Observation {
		attempts++
		if attempts < 3 {
			return &model.Observation{Success: false, ErrorMessage: "connection reset"}
		}
		return observation(10)
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if obs.TotalCount() != 10 {
		t.Errorf("count = %d, want 10", obs.TotalCount())
	}
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	v := newTestValidator()
	v.Retries = 2

	attempts := 0
	obs, err := v.Run(context.Background(), 10, func(context.Context) *model.Observation {
		attempts++
		return observation(1)
	})
	if err == nil {
		t.Fatal("Run() succeeded, want exhaustion error")
	}
	if obs != nil {
		t.Errorf("observation = %v, want nil on exhaustion", obs)
	}
	if !errors.Is(err, ErrAnomalous) {
		t.Errorf("error = %v, want wrapped %v", err, ErrAnomalous)
	}
	// Initial attempt plus two retries.
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	v := newTestValidator()
	v.RetryDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := v.Run(ctx, 10, func(context.Context) *model.Observation {
			return &model.Observation{Success: false, ErrorMessage: "down"}
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Error("Run() returned nil after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}
