package health

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/msto63/emubench/internal/procmgr"
	"github.com/msto63/emubench/internal/procmgr/proctest"
)

func TestStatus_Constants(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusUp, "up"},
		{StatusDown, "down"},
		{StatusDegraded, "degraded"},
		{StatusUnknown, "unknown"},
	}

	for _, tt := range tests {
		if string(tt.status) != tt.want {
			t.Errorf("Status = %v, want %v", tt.status, tt.want)
		}
	}
}

func TestNewChecker(t *testing.T) {
	checker := NewChecker("bridge", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusUp, Message: "ok"}
	})

	if checker.Name() != "bridge" {
		t.Errorf("Name() = %v, want bridge", checker.Name())
	}
	if got := checker.Check(context.Background()).Status; got != StatusUp {
		t.Errorf("Status = %v, want up", got)
	}
}

func TestRegistry_ResultsSortedAndNamed(t *testing.T) {
	r := NewRegistry("emubench", "1.2.0")
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.RegisterFunc(name, func(ctx context.Context) CheckResult {
			return CheckResult{Status: StatusUp}
		})
	}

	report := r.Check(context.Background())

	if len(report.Checks) != 3 {
		t.Fatalf("len(Checks) = %d, want 3", len(report.Checks))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, name := range want {
		if report.Checks[i].Name != name {
			t.Errorf("Checks[%d].Name = %v, want %v", i, report.Checks[i].Name, name)
		}
	}
	if report.Status != StatusUp {
		t.Errorf("Status = %v, want up", report.Status)
	}
	if report.Name != "emubench" || report.Version != "1.2.0" {
		t.Errorf("report identity = %s %s, want emubench 1.2.0", report.Name, report.Version)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry("emubench", "1.2.0")
	r.Register(NewChecker("a", func(ctx context.Context) CheckResult { return CheckResult{Status: StatusUp} }))
	r.Unregister("a")

	if n := len(r.Check(context.Background()).Checks); n != 0 {
		t.Errorf("len(Checks) = %d, want 0", n)
	}
}

func TestRegistry_OverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"empty", nil, StatusUp},
		{"all up", []Status{StatusUp, StatusUp}, StatusUp},
		{"one down", []Status{StatusUp, StatusDown}, StatusDown},
		{"degraded", []Status{StatusUp, StatusDegraded}, StatusDegraded},
		{"unknown degrades", []Status{StatusUp, ""}, StatusDegraded},
		{"down wins", []Status{StatusDegraded, StatusDown}, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry("emubench", "test")
			for i, st := range tt.statuses {
				st := st
				r.RegisterFunc(string(rune('a'+i)), func(ctx context.Context) CheckResult {
					return CheckResult{Status: st}
				})
			}
			if got := r.Check(context.Background()).Status; got != tt.want {
				t.Errorf("Status = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistry_CheckWithTimeout(t *testing.T) {
	r := NewRegistry("emubench", "test")
	r.RegisterFunc("slow", func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnknown, Message: ctx.Err().Error()}
	})

	start := time.Now()
	report := r.CheckWithTimeout(20 * time.Millisecond)

	if time.Since(start) > 2*time.Second {
		t.Errorf("CheckWithTimeout took %v", time.Since(start))
	}
	if report.Status != StatusDegraded {
		t.Errorf("Status = %v, want degraded", report.Status)
	}
}

func TestRegistry_ConcurrentChecks(t *testing.T) {
	r := NewRegistry("emubench", "test")
	var running, peak int32
	for i := 0; i < 4; i++ {
		r.RegisterFunc(string(rune('a'+i)), func(ctx context.Context) CheckResult {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return CheckResult{Status: StatusUp}
		})
	}

	r.Check(context.Background())
	if atomic.LoadInt32(&peak) < 2 {
		t.Errorf("peak concurrency = %d, want >= 2", peak)
	}
}

func TestReport_StringAndResult(t *testing.T) {
	report := &Report{
		Name:    "emubench",
		Version: "1.2.0",
		Status:  StatusDown,
		Checks:  []CheckResult{{Name: "emulator-process", Status: StatusDown}},
	}

	if got, want := report.String(), "emubench 1.2.0: down (1 checks)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if _, ok := report.Result("emulator-process"); !ok {
		t.Error("Result(emulator-process) not found")
	}
	if _, ok := report.Result("missing"); ok {
		t.Error("Result(missing) found")
	}
}

func TestProcessCheck(t *testing.T) {
	table := proctest.NewFakeTable()
	probe := procmgr.NewProbe(table, nil)
	check := ProcessCheck("automation-server", probe, "appium")

	result := check.Check(context.Background())
	if result.Status != StatusDown {
		t.Errorf("Status = %v, want down", result.Status)
	}

	pid := table.Spawn("node appium server", proctest.DiesOnGraceful)
	result = check.Check(context.Background())
	if result.Status != StatusUp {
		t.Errorf("Status = %v, want up", result.Status)
	}
	pids, _ := result.Details["pids"].(string)
	if !strings.Contains(pids, "1001") || pid != 1001 {
		t.Errorf("pids = %q, want %d", pids, pid)
	}
}

func TestDeviceCheck(t *testing.T) {
	tests := []struct {
		connected bool
		want      Status
	}{
		{true, StatusUp},
		{false, StatusDown},
	}

	for _, tt := range tests {
		check := DeviceCheck("emulator-device", func(context.Context) bool { return tt.connected })
		if got := check.Check(context.Background()).Status; got != tt.want {
			t.Errorf("connected=%v: Status = %v, want %v", tt.connected, got, tt.want)
		}
	}
}
