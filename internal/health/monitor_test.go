package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ginjaninja78/payment-import/internal/config"
)

type prober struct {
	fail  atomic.Bool
	hang  atomic.Bool
	calls atomic.Int32
}

func (p *prober) Ping(ctx context.Context) error {
	p.calls.Add(1)
	if p.hang.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestCheckPublishesState(t *testing.T) {
	p := &prober{}
	m := NewMonitor(p, config.HealthConfig{Schedule: "@every 1h", Timeout: time.Second})
	if m.Online() || m.Status().State != StateUnknown {
		t.Fatal("monitor must start unknown")
	}

	if st := m.Check(context.Background()); st.State != StateOnline || !m.Online() {
		t.Fatalf("status = %+v", st)
	}

	p.fail.Store(true)
	st := m.Check(context.Background())
	if st.State != StateOffline || st.LastError == "" || m.Online() {
		t.Fatalf("status = %+v", st)
	}
}

func TestCheckTimesOut(t *testing.T) {
	p := &prober{}
	p.hang.Store(true)
	m := NewMonitor(p, config.HealthConfig{Schedule: "@every 1h", Timeout: 20 * time.Millisecond})

	start := time.Now()
	st := m.Check(context.Background())
	if st.State != StateOffline {
		t.Fatalf("hung probe must read offline: %+v", st)
	}
	if time.Since(start) > time.Second {
		t.Fatal("probe ignored its timeout")
	}
}

func TestStartProbesImmediatelyAndOnSchedule(t *testing.T) {
	p := &prober{}
	m := NewMonitor(p, config.HealthConfig{Schedule: "@every 1s", Timeout: time.Second})
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	if !m.Online() {
		t.Fatal("Start must probe before returning")
	}
	deadline := time.Now().Add(3 * time.Second)
	for p.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if p.calls.Load() < 2 {
		t.Fatal("scheduled probe never ran")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	m := NewMonitor(&prober{}, config.HealthConfig{Schedule: "every now and then"})
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
	m.Stop()
}
