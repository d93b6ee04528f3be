package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMonitorMarksHealthyAfterFirstSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor("cloud", NewHTTPChecker(srv.URL), Config{
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Retries:  2,
	})
	m.Start()
	defer m.Stop()

	deadline := time.After(time.Second)
	for m.status.LastCheck.IsZero() {
		select {
		case <-deadline:
			t.Fatal("monitor never reported a check")
		default:
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !m.status.Healthy {
		t.Errorf("expected monitor to report healthy, got %+v", m.status)
	}
}

func TestMonitorMarksUnhealthyAfterRetriesExceeded(t *testing.T) {
	m := NewMonitor("bus", NewTCPChecker("127.0.0.1:1"), Config{
		Interval: 5 * time.Millisecond,
		Timeout:  20 * time.Millisecond,
		Retries:  1,
	})
	m.Start()
	defer m.Stop()

	deadline := time.After(time.Second)
	for m.status.ConsecutiveFailures < 1 {
		select {
		case <-deadline:
			t.Fatal("monitor never recorded a failure")
		default:
		}
		time.Sleep(5 * time.Millisecond)
	}
	if m.status.Healthy {
		t.Error("expected monitor to report unhealthy after exceeding retries")
	}
}

func TestMonitorLoopExitsOnCancelledContext(t *testing.T) {
	m := NewMonitor("cloud", NewTCPChecker("127.0.0.1:1"), Config{
		Interval: time.Hour,
		Timeout:  time.Second,
		Retries:  1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		m.loop(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after context cancellation")
	}
}
