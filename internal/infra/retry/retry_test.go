package retry_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"delivery-userbot/internal/infra/retry"
)

var errFlood = errors.New("flood")

type recorder struct{ waits []time.Duration }

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestLinearDo(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	fatal := errors.New("fatal")

	cases := []struct {
		name         string
		policy       retry.Linear
		failUntil    int // попытка, начиная с которой fn успешна; 0: никогда
		permanentAt  int
		wantAttempts int
		wantWaits    []time.Duration
		wantErr      error
	}{
		{
			name:         "allAttemptsFail",
			policy:       retry.Linear{Attempts: 5, Step: 2 * time.Second},
			wantAttempts: 5,
			wantWaits:    []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second, 10 * time.Second},
			wantErr:      boom,
		},
		{
			name:         "succeedsOnThird",
			policy:       retry.Linear{Attempts: 5, Step: 2 * time.Second},
			failUntil:    3,
			wantAttempts: 3,
			wantWaits:    []time.Duration{2 * time.Second, 4 * time.Second},
		},
		{
			name:         "permanentStopsImmediately",
			policy:       retry.Linear{Attempts: 3, Step: time.Second},
			permanentAt:  2,
			wantAttempts: 2,
			wantWaits:    []time.Duration{time.Second},
			wantErr:      fatal,
		},
		{
			name:         "zeroAttemptsMeansOne",
			policy:       retry.Linear{Step: time.Second},
			wantAttempts: 1,
			wantWaits:    []time.Duration{time.Second},
			wantErr:      boom,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := &recorder{}
			attempts, err := tc.policy.Do(context.Background(), rec.sleep, func(_ context.Context, attempt int) error {
				if tc.permanentAt == attempt {
					return retry.Permanent(fatal)
				}
				if tc.failUntil != 0 && attempt >= tc.failUntil {
					return nil
				}
				return boom
			})

			if attempts != tc.wantAttempts {
				t.Fatalf("attempts = %d, want %d", attempts, tc.wantAttempts)
			}
			if !errors.Is(err, tc.wantErr) || (tc.wantErr == nil && err != nil) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if len(rec.waits) != len(tc.wantWaits) || (len(tc.wantWaits) > 0 && !reflect.DeepEqual(rec.waits, tc.wantWaits)) {
				t.Fatalf("waits = %v, want %v", rec.waits, tc.wantWaits)
			}
		})
	}
}

func TestLinearDoStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	attempts, err := retry.Linear{Attempts: 5, Step: time.Second}.Do(ctx,
		func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		},
		func(context.Context, int) error {
			calls++
			return errFlood
		})

	if calls != 1 || attempts != 1 {
		t.Fatalf("calls = %d attempts = %d, want 1/1", calls, attempts)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, errFlood) {
		t.Fatalf("err = %v carries the attempt error after cancel", err)
	}
}

func TestSleepHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := retry.Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep() = %v, want context.Canceled", err)
	}
}
