package fn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var errFlaky = errors.New("connection reset")

var fast = RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}

func TestFromPair(t *testing.T) {
	if v, err := FromPair(150.0, nil).Unwrap(); err != nil || v != 150 {
		t.Fatalf("got %v, %v", v, err)
	}
	r := FromPair(0.0, errFlaky)
	if r.IsOk() || !r.IsErr() {
		t.Fatal("expected error result")
	}
	if _, err := r.Unwrap(); !errors.Is(err, errFlaky) {
		t.Fatalf("got %v", err)
	}
}

func TestCollect(t *testing.T) {
	ok := Collect([]Result[string]{Ok("a"), Ok("b")})
	if v, err := ok.Unwrap(); err != nil || len(v) != 2 || v[1] != "b" {
		t.Fatalf("got %v, %v", v, err)
	}

	errA, errC := errors.New("pipe a"), errors.New("pipe c")
	_, err := Collect([]Result[string]{Err[string](errA), Ok("b"), Err[string](errC)}).Unwrap()
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Fatalf("every failure should be reported, got %v", err)
	}
}

func TestPipeline(t *testing.T) {
	var ran []string
	step := func(name string, fail bool) Stage[int, int] {
		return func(_ context.Context, n int) Result[int] {
			ran = append(ran, name)
			if fail {
				return Err[int](fmt.Errorf("%s failed", name))
			}
			return Ok(n + 1)
		}
	}

	v, err := Pipeline(step("order", false), step("topology", false))(context.Background(), 0).Unwrap()
	if err != nil || v != 2 {
		t.Fatalf("got %v, %v", v, err)
	}

	ran = nil
	_, err = Pipeline(step("order", false), step("topology", true), step("sizing", false))(context.Background(), 0).Unwrap()
	if err == nil || len(ran) != 2 {
		t.Fatalf("pipeline should stop at topology, ran %v", ran)
	}
}

func TestTracedStage(t *testing.T) {
	double := TracedStage("double", func(_ context.Context, n int) Result[int] { return Ok(2 * n) })
	if v, _ := double(context.Background(), 4).Unwrap(); v != 8 {
		t.Fatalf("got %d", v)
	}
	failing := TracedStage("fail", func(_ context.Context, _ int) Result[int] { return Err[int](errFlaky) })
	if _, err := failing(context.Background(), 1).Unwrap(); !errors.Is(err, errFlaky) {
		t.Fatalf("got %v", err)
	}
}

func TestBatchStage(t *testing.T) {
	var inFlight, peak atomic.Int32
	stage := func(_ context.Context, id int) Result[string] {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		if id < 0 {
			return Err[string](fmt.Errorf("segment %d", id))
		}
		return Ok(fmt.Sprintf("seg-%d", id))
	}

	ids := []int{1, 2, 3, 4, 5, 6, 7, 8}
	out, err := BatchStage(2, stage)(context.Background(), ids).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	for i, id := range ids {
		if out[i] != fmt.Sprintf("seg-%d", id) {
			t.Fatalf("order lost: %v", out)
		}
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeds 2 workers", peak.Load())
	}

	_, err = BatchStage(0, stage)(context.Background(), []int{1, -2, -3}).Unwrap()
	if err == nil || !strings.Contains(err.Error(), "segment -2") || !strings.Contains(err.Error(), "segment -3") {
		t.Fatalf("expected both failures, got %v", err)
	}

	if out, err := BatchStage(4, stage)(context.Background(), nil).Unwrap(); err != nil || len(out) != 0 {
		t.Fatalf("empty batch: %v, %v", out, err)
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		permanent bool
		wantCalls int
		wantErr   bool
	}{
		{"first try", 0, false, 1, false},
		{"recovers", 2, false, 3, false},
		{"gives up", 5, false, 3, true},
		{"permanent", 5, true, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			r := Retry(context.Background(), fast, func(context.Context) Result[int] {
				calls++
				if calls <= tt.failures {
					if tt.permanent {
						return Err[int](Permanent(errFlaky))
					}
					return Err[int](errFlaky)
				}
				return Ok(calls)
			})
			if calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tt.wantCalls)
			}
			_, err := r.Unwrap()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if err != nil && !errors.Is(err, errFlaky) {
				t.Fatalf("cause lost: %v", err)
			}
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r := Retry(ctx, RetryOpts{MaxAttempts: 5, InitialWait: time.Hour, MaxWait: time.Hour}, func(context.Context) Result[int] {
		calls++
		cancel()
		return Err[int](errFlaky)
	})
	_, err := r.Unwrap()
	if calls != 1 || !errors.Is(err, context.Canceled) || !errors.Is(err, errFlaky) {
		t.Fatalf("calls %d, err %v", calls, err)
	}
}

func TestRetryStage(t *testing.T) {
	calls := 0
	save := RetryStage(fast, func(_ context.Context, id string) Result[string] {
		calls++
		if calls == 1 {
			return Err[string](errFlaky)
		}
		return Ok(id)
	})
	if v, err := save(context.Background(), "PV1-PV2").Unwrap(); err != nil || v != "PV1-PV2" || calls != 2 {
		t.Fatalf("got %v, %v after %d calls", v, err, calls)
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}
