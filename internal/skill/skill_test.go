package skill_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/skill"
)

// funcSkill is a Skill whose handler is a closure.
type funcSkill struct {
	name    string
	intents []string
	handle  func(ctx context.Context, m intent.Match) (skill.Result, error)

	mu    sync.Mutex
	calls []intent.Match
}

func (f *funcSkill) Name() string      { return f.name }
func (f *funcSkill) Intents() []string { return f.intents }

func (f *funcSkill) Handle(ctx context.Context, m intent.Match) (skill.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, m)
	f.mu.Unlock()
	return f.handle(ctx, m)
}

func (f *funcSkill) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func reply(msg string) func(context.Context, intent.Match) (skill.Result, error) {
	return func(context.Context, intent.Match) (skill.Result, error) {
		return skill.Succeeded(msg, nil), nil
	}
}

func match(name, raw string) intent.Match {
	return intent.Match{Intent: name, Entities: map[string]string{}, Raw: raw}
}

// ---- Registry ----

func TestRegistry_DuplicateIntentFails(t *testing.T) {
	t.Parallel()

	reg := skill.NewRegistry()
	first := &funcSkill{name: "weather-a", intents: []string{"weather"}, handle: reply("sunny")}
	second := &funcSkill{name: "weather-b", intents: []string{"forecast", "weather"}, handle: reply("rain")}

	if err := reg.Register(first); err != nil {
		t.Fatalf("Register(first): %v", err)
	}
	err := reg.Register(second)
	if !errors.Is(err, skill.ErrDuplicateIntent) {
		t.Fatalf("Register(second): err = %v, want ErrDuplicateIntent", err)
	}
	if !strings.Contains(err.Error(), "weather-a") {
		t.Errorf("error %q does not name the existing owner", err)
	}

	// Registration is atomic: "forecast" must not be bound either.
	if _, ok := reg.Lookup("forecast"); ok {
		t.Error("Lookup(forecast) succeeded after failed registration")
	}
	if s, _ := reg.Lookup("weather"); s != first {
		t.Error("Lookup(weather) does not return the first skill")
	}
}

func TestRegistry_DuplicateWithinSkill(t *testing.T) {
	t.Parallel()

	reg := skill.NewRegistry()
	err := reg.Register(&funcSkill{name: "echo", intents: []string{"echo", "echo"}, handle: reply("x")})
	if !errors.Is(err, skill.ErrDuplicateIntent) {
		t.Fatalf("err = %v, want ErrDuplicateIntent", err)
	}
}

func TestRegistry_Invalid(t *testing.T) {
	t.Parallel()

	reg := skill.NewRegistry()
	if err := reg.Register(nil); !errors.Is(err, skill.ErrInvalidSkill) {
		t.Errorf("Register(nil): err = %v, want ErrInvalidSkill", err)
	}
	if err := reg.Register(&funcSkill{name: "empty"}); !errors.Is(err, skill.ErrInvalidSkill) {
		t.Errorf("Register(no intents): err = %v, want ErrInvalidSkill", err)
	}
	if err := reg.Register(&funcSkill{name: "blank", intents: []string{""}}); !errors.Is(err, skill.ErrInvalidSkill) {
		t.Errorf("Register(blank intent): err = %v, want ErrInvalidSkill", err)
	}
}

func TestRegistry_Freeze(t *testing.T) {
	t.Parallel()

	reg := skill.NewRegistry()
	reg.MustRegister(&funcSkill{name: "a", intents: []string{"b", "a"}, handle: reply("ok")})
	reg.Freeze()

	if !reg.Frozen() {
		t.Fatal("Frozen = false after Freeze")
	}
	err := reg.Register(&funcSkill{name: "late", intents: []string{"late"}, handle: reply("ok")})
	if !errors.Is(err, skill.ErrRegistryFrozen) {
		t.Fatalf("Register after Freeze: err = %v, want ErrRegistryFrozen", err)
	}
	if got := reg.Intents(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Intents = %v, want [a b]", got)
	}
	if got := len(reg.Skills()); got != 1 {
		t.Errorf("len(Skills) = %d, want 1", got)
	}
}

// ---- Dispatcher ----

func newDispatcher(t *testing.T, opts []skill.DispatcherOption, skills ...skill.Skill) *skill.Dispatcher {
	t.Helper()
	reg := skill.NewRegistry()
	for _, s := range skills {
		if err := reg.Register(s); err != nil {
			t.Fatalf("Register(%s): %v", s.Name(), err)
		}
	}
	reg.Freeze()
	return skill.NewDispatcher(reg, opts...)
}

func TestDispatch_Success(t *testing.T) {
	t.Parallel()

	clock := &funcSkill{name: "clock", intents: []string{"time"}, handle: reply("It's currently 10:15 AM.")}
	d := newDispatcher(t, nil, clock)

	got := d.Dispatch(context.Background(), match("time", "what time is it"))
	if !got.Success || got.Message != "It's currently 10:15 AM." {
		t.Errorf("Dispatch = %+v, want success with clock message", got)
	}
}

func TestDispatch_Fallbacks(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, nil)

	tests := []struct {
		name string
		m    intent.Match
		want string
	}{
		{name: "empty transcript", m: match(intent.Unrecognized, ""), want: skill.MsgNotCaught},
		{name: "no pattern matched", m: match(intent.Unrecognized, "sing me a song"), want: skill.MsgUnrecognized},
		{name: "unbound intent", m: match("weather", "what's the weather"), want: skill.MsgUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := d.Dispatch(context.Background(), tt.m)
			if got.Success || got.Message != tt.want {
				t.Errorf("Dispatch = %+v, want failure %q", got, tt.want)
			}
		})
	}
}

func TestDispatch_FaultsBecomeFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		handle func(context.Context, intent.Match) (skill.Result, error)
	}{
		{name: "error", handle: func(context.Context, intent.Match) (skill.Result, error) {
			return skill.Result{}, errors.New("backend down")
		}},
		{name: "panic", handle: func(context.Context, intent.Match) (skill.Result, error) {
			panic("boom")
		}},
		{name: "empty message", handle: func(context.Context, intent.Match) (skill.Result, error) {
			return skill.Result{Success: true, Message: "  "}, nil
		}},
		{name: "honours deadline", handle: func(ctx context.Context, _ intent.Match) (skill.Result, error) {
			<-ctx.Done()
			return skill.Result{}, ctx.Err()
		}},
		{name: "ignores deadline", handle: func(context.Context, intent.Match) (skill.Result, error) {
			time.Sleep(500 * time.Millisecond)
			return skill.Succeeded("too late", nil), nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &funcSkill{name: "faulty", intents: []string{"x"}, handle: tt.handle}
			d := newDispatcher(t, []skill.DispatcherOption{skill.WithTimeout(30 * time.Millisecond)}, s)

			start := time.Now()
			got := d.Dispatch(context.Background(), match("x", "do x"))
			if got.Success || got.Message != skill.MsgFailure {
				t.Errorf("Dispatch = %+v, want generic failure", got)
			}
			if took := time.Since(start); took > 400*time.Millisecond {
				t.Errorf("Dispatch took %v, want it bounded by the timeout", took)
			}
		})
	}
}

func TestDispatch_Isolation(t *testing.T) {
	t.Parallel()

	bad := &funcSkill{name: "bad", intents: []string{"x"}, handle: func(context.Context, intent.Match) (skill.Result, error) {
		panic("x exploded")
	}}
	good := &funcSkill{name: "good", intents: []string{"y"}, handle: reply("y works")}
	d := newDispatcher(t, nil, bad, good)

	if got := d.Dispatch(context.Background(), match("x", "do x")); got.Success {
		t.Fatalf("Dispatch(x) = %+v, want failure", got)
	}
	got := d.Dispatch(context.Background(), match("y", "do y"))
	if !got.Success || got.Message != "y works" {
		t.Errorf("Dispatch(y) after x panicked = %+v, want success", got)
	}
}

func TestDispatch_SkillReportedFailurePassesThrough(t *testing.T) {
	t.Parallel()

	s := &funcSkill{name: "timer", intents: []string{"check_timer"}, handle: func(context.Context, intent.Match) (skill.Result, error) {
		return skill.Failed("No timer is currently set."), nil
	}}
	d := newDispatcher(t, nil, s)

	got := d.Dispatch(context.Background(), match("check_timer", "check timer"))
	if got.Success || got.Message != "No timer is currently set." {
		t.Errorf("Dispatch = %+v, want the skill's own failure message", got)
	}
}

func TestDispatch_PreviousMatchAvailable(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []string
	)
	first := &funcSkill{name: "timer", intents: []string{"set_timer"}, handle: reply("Timer set.")}
	follow := &funcSkill{name: "system", intents: []string{"cancel"}, handle: func(ctx context.Context, _ intent.Match) (skill.Result, error) {
		prev, ok := skill.Previous(ctx)
		mu.Lock()
		defer mu.Unlock()
		if ok {
			seen = append(seen, prev.Intent)
		} else {
			seen = append(seen, "")
		}
		return skill.Succeeded("Okay.", nil), nil
	}}

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		now = now.Add(d)
		clockMu.Unlock()
	}
	mem := skill.NewMemory(5*time.Minute, clock)
	d := newDispatcher(t, []skill.DispatcherOption{skill.WithMemory(mem)}, first, follow)

	d.Dispatch(context.Background(), match("set_timer", "set a timer for 5 minutes"))
	d.Dispatch(context.Background(), match("cancel", "cancel it"))
	advance(5 * time.Minute)
	d.Dispatch(context.Background(), match("cancel", "cancel it"))

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "set_timer" || seen[1] != "" {
		t.Errorf("previous intents seen = %q, want [set_timer \"\"]", seen)
	}
	if first.callCount() != 1 || follow.callCount() != 2 {
		t.Errorf("calls = %d/%d, want 1/2", first.callCount(), follow.callCount())
	}
}

func TestDispatch_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	s := &funcSkill{name: "clock", intents: []string{"time"}, handle: reply("now")}
	d := newDispatcher(t, []skill.DispatcherOption{skill.WithDispatchMetrics(m)}, s)

	d.Dispatch(context.Background(), match("time", "what time is it"))
	d.Dispatch(context.Background(), match(intent.Unrecognized, "gibberish"))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "hark.dispatch.count" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("hark.dispatch.count data = %T, want Sum[int64]", md.Data)
			}
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				got[outcome.AsString()] += dp.Value
			}
		}
	}
	if got[skill.OutcomeSuccess] != 1 || got[skill.OutcomeUnrecognized] != 1 {
		t.Errorf("dispatch counts by outcome = %v, want success=1 unrecognized=1", got)
	}
}

// ---- Memory ----

func TestMemory_Forget(t *testing.T) {
	t.Parallel()

	mem := skill.NewMemory(0, nil)
	mem.Remember(match("set_timer", "timer for 1 minute"))
	if _, ok := mem.Recall(); !ok {
		t.Fatal("Recall after Remember: ok = false")
	}
	mem.Forget()
	if _, ok := mem.Recall(); ok {
		t.Fatal("Recall after Forget: ok = true")
	}
}
