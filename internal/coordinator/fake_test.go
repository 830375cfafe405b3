package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// fakeAdapter records calls and lets tests script failures and delays.
type fakeAdapter struct {
	system safety.SystemType

	mu       sync.Mutex
	sink     safety.EventSink
	calls    []string
	errs     []error
	delay    time.Duration
	block    bool
	alarms   int
	sessions int
	onCall   func(action string)
}

func newFakeAdapter(system safety.SystemType) *fakeAdapter {
	return &fakeAdapter{system: system}
}

func (f *fakeAdapter) System() safety.SystemType { return f.system }

func (f *fakeAdapter) RegisterEventSink(sink safety.EventSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sink != nil {
		return safety.ErrSinkRegistered
	}

	f.sink = sink

	return nil
}

func (f *fakeAdapter) Trigger(ctx context.Context, req safety.TriggerRequest) (*safety.Result, error) {
	return f.call(ctx, safety.ActionTrigger+":"+req.Target)
}

func (f *fakeAdapter) Reset(ctx context.Context, target string) (*safety.Result, error) {
	return f.call(ctx, safety.ActionReset+":"+target)
}

func (f *fakeAdapter) Test(ctx context.Context) *safety.TestReport {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
	}

	return safety.NewTestReport(f.system, []safety.DeviceResult{{Device: "dev-1", Passed: !block}}, safety.TestPolicy{}, time.Now())
}

func (f *fakeAdapter) Status(context.Context) *safety.SubsystemState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return &safety.SubsystemState{
		System:           f.system,
		Status:           safety.StatusNormal,
		ActiveAlarms:     f.alarms,
		ActiveSessions:   f.sessions,
		PerformanceScore: 100,
	}
}

func (f *fakeAdapter) emit(event *safety.SystemEvent) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()

	sink(event)
}

func (f *fakeAdapter) setQuiet() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.alarms, f.sessions = 0, 0
}

func (f *fakeAdapter) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

func (f *fakeAdapter) call(ctx context.Context, name string) (*safety.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	hook := f.onCall
	delay, block := f.delay, f.block

	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	f.mu.Unlock()

	if hook != nil {
		hook(name)
	}

	if block {
		<-ctx.Done()

		return nil, ctx.Err()
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	if err != nil {
		return nil, err
	}

	return &safety.Result{Success: true, System: f.system, Message: name}, nil
}
