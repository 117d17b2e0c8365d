package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/archive"
	commands "plantwatch/internal/commands/domain"
	"plantwatch/internal/config"
	"plantwatch/internal/daq"
	"plantwatch/internal/observability/metrics"
	supervision "plantwatch/internal/supervision/domain"
	tags "plantwatch/internal/tags/domain"
)

var t0 = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeCommunicator struct {
	mu       sync.Mutex
	handlers map[string]daq.UpdateHandler
	executed []commands.Request
}

func (f *fakeCommunicator) ExecuteCommand(_ context.Context, _ commands.CommandTag, req commands.Request) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, req)
	return 42.0, nil
}

func (f *fakeCommunicator) Subscribe(processID string, handler daq.UpdateHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[processID] = handler
	return nil
}

func (f *fakeCommunicator) Unsubscribe(processID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handlers[processID]; !ok {
		return daq.ErrNotSubscribed
	}
	delete(f.handlers, processID)
	return nil
}

func (f *fakeCommunicator) handler(processID string) daq.UpdateHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[processID]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []alarmapp.AlarmEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event alarmapp.AlarmEvent) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) Events() []alarmapp.AlarmEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]alarmapp.AlarmEvent(nil), n.events...)
}

type memorySink struct {
	mu          sync.Mutex
	supervision []supervision.Record
	alarms      []string
	tags        []string
}

func (s *memorySink) SupervisionChanged(_ context.Context, record supervision.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supervision = append(s.supervision, record)
	return nil
}

func (s *memorySink) AlarmPublished(_ context.Context, event string, alarm alarms.Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms = append(s.alarms, alarm.ID+":"+event)
	return nil
}

func (s *memorySink) TagUpdated(_ context.Context, tag tags.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = append(s.tags, tag.ID)
	return nil
}

func (s *memorySink) snapshot() ([]supervision.Record, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]supervision.Record(nil), s.supervision...), append([]string(nil), s.alarms...)
}

type staticSnapshot struct {
	alarms map[string]alarms.Alarm
	tags   map[string]tags.Tag
}

func (s staticSnapshot) Alarms() (map[string]alarms.Alarm, error) { return s.alarms, nil }
func (s staticSnapshot) Tags() (map[string]tags.Tag, error)       { return s.tags, nil }

func testConfig(t *testing.T) (config.Config, config.Model) {
	t.Helper()
	upper := 100.0
	cfg := config.Defaults()
	cfg.Engine.AliveScanDelay = time.Hour
	cfg.Engine.OscillationCheckDelay = time.Hour
	cfg.Hierarchy = config.Hierarchy{
		Processes: []config.Process{{Entity: config.Entity{
			ID: "P1", Name: "daq-1", AliveTagID: "P1.ALIVE", CommFaultTagID: "P1.COMM", StateTagID: "P1.STATE",
			AliveInterval: 30 * time.Second,
		}}},
		Equipment: []config.Equipment{{Entity: config.Entity{ID: "E1", Name: "pump", CommFaultTagID: "E1.COMM"}, ProcessID: "P1"}},
		Tags:      []config.DataTag{{ID: "T1", Name: "pressure", EquipmentID: "E1"}},
		Alarms: []config.Alarm{{
			ID: "A1", TagID: "T1", FaultFamily: "PUMP", FaultMember: "P-101", FaultCode: 1,
			Condition: alarms.Condition{Type: alarms.ConditionThreshold, Operator: alarms.OperatorGreater, Threshold: 10},
		}},
		Commands: []commands.CommandTag{{ID: "C1", ProcessID: "P1", EquipmentID: "E1", DataType: "float", Max: &upper}},
	}
	model, err := cfg.Hierarchy.Build()
	require.NoError(t, err)
	return cfg, model
}

func TestSupervisionAlarmAndCommandFlow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, model := testConfig(t)
	clock := &fixedClock{now: t0}
	communicator := &fakeCommunicator{handlers: make(map[string]daq.UpdateHandler)}
	notifier := &recordingNotifier{}
	sink := &memorySink{}

	e, err := New(ctx, cfg, model, Options{
		Clock:        clock,
		Communicator: communicator,
		Sinks:        []archive.Sink{sink},
		Notifiers:    []alarmapp.AlarmNotifier{notifier},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	require.Eventually(t, func() bool { return communicator.handler("P1") != nil }, time.Second, 5*time.Millisecond)
	deliver := communicator.handler("P1")

	report := e.Manager.Execute(ctx, commands.Request{CommandID: "C1", Value: 5.0})
	assert.Equal(t, commands.StatusProcessDown, report.Status)

	// A value under a down process is evaluated with invalid quality and cannot activate.
	require.NoError(t, deliver(ctx, tags.Update{TagID: "T1", Value: 20.0, SourceTime: t0}))
	assert.Empty(t, notifier.Events())

	clock.Advance(time.Second)
	require.NoError(t, deliver(ctx, tags.Update{TagID: "P1.ALIVE", Value: int64(1), SourceTime: clock.Now()}))

	p1, err := e.Supervision.Get(supervision.Ref{Kind: supervision.KindProcess, ID: "P1"})
	require.NoError(t, err)
	assert.Equal(t, supervision.StatusRunning, p1.Status)
	e1, err := e.Supervision.Get(supervision.Ref{Kind: supervision.KindEquipment, ID: "E1"})
	require.NoError(t, err)
	assert.Equal(t, supervision.StatusRunning, e1.Status)

	// Recovery alone does not activate the alarm; the next value update does.
	assert.Empty(t, notifier.Events())
	require.NoError(t, deliver(ctx, tags.Update{TagID: "T1", Value: 21.0, SourceTime: clock.Now()}))

	events := notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, alarmapp.EventActive, events[0].Type)
	assert.Equal(t, "A1", events[0].Alarm.ID)

	state, err := e.TagService.Get("P1.STATE")
	require.NoError(t, err)
	assert.Equal(t, string(supervision.StatusRunning), state.Value)

	report = e.Manager.Execute(ctx, commands.Request{CommandID: "C1", Value: 50.0, User: "op"})
	assert.Equal(t, commands.StatusOK, report.Status)
	assert.Equal(t, 42.0, report.ReturnValue)
	report = e.Manager.Execute(ctx, commands.Request{CommandID: "C1", Value: 500.0})
	assert.Equal(t, commands.StatusValueOutOfRange, report.Status)

	clock.Advance(41 * time.Second)
	require.True(t, e.runners[0].RunOnce(ctx))
	p1, err = e.Supervision.Get(supervision.Ref{Kind: supervision.KindProcess, ID: "P1"})
	require.NoError(t, err)
	assert.Equal(t, supervision.StatusDown, p1.Status)

	alarm, err := e.Evaluator.Get("A1")
	require.NoError(t, err)
	assert.Equal(t, alarms.StateActive, alarm.Published.State)
	report = e.Manager.Execute(ctx, commands.Request{CommandID: "C1", Value: 50.0})
	assert.Equal(t, commands.StatusProcessDown, report.Status)

	cancel()
	require.NoError(t, <-done)
	assert.Nil(t, communicator.handler("P1"))

	records, alarmEvents := sink.snapshot()
	assert.Contains(t, alarmEvents, "A1:"+alarmapp.EventActive)
	statuses := make([]supervision.Status, 0, len(records))
	for _, record := range records {
		if record.ID == "P1" {
			statuses = append(statuses, record.Status)
		}
	}
	assert.Equal(t, []supervision.Status{supervision.StatusRunning, supervision.StatusDown}, statuses)
}

func TestRestoreKeepsPublishedAlarmState(t *testing.T) {
	cfg, model := testConfig(t)
	restored := alarms.Alarm{
		ID:        "A1",
		TagID:     "T1",
		State:     alarms.StateActive,
		Timestamp: t0,
		Published: alarms.Published{State: alarms.StateActive, Timestamp: t0},
	}
	e, err := New(context.Background(), cfg, model, Options{
		Snapshot: staticSnapshot{
			alarms: map[string]alarms.Alarm{"A1": restored, "GONE": {ID: "GONE", TagID: "T9"}},
			tags:   map[string]tags.Tag{"T1": {ID: "T1", Value: 20.0, SourceTime: t0}},
		},
	})
	require.NoError(t, err)

	alarm, err := e.Evaluator.Get("A1")
	require.NoError(t, err)
	assert.Equal(t, alarms.StateActive, alarm.Published.State)
	assert.Equal(t, alarms.ConditionThreshold, alarm.Condition.Type)
	assert.False(t, e.Alarms.Has("GONE"))

	tag, err := e.TagService.Get("T1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, tag.Value)
	assert.Equal(t, []string{"A1"}, tag.AlarmIDs)
}

func TestOfflineCommunicatorReportsServerError(t *testing.T) {
	ctx := context.Background()
	cfg, model := testConfig(t)
	clock := &fixedClock{now: t0}
	e, err := New(ctx, cfg, model, Options{Clock: clock})
	require.NoError(t, err)

	_, err = e.Supervision.ChangeStatus(ctx, supervision.Ref{Kind: supervision.KindProcess, ID: "P1"}, supervision.StatusRunning, time.Time{}, "test")
	require.NoError(t, err)

	report := e.Manager.Execute(ctx, commands.Request{CommandID: "C1", Value: 1.0})
	assert.Equal(t, commands.StatusServerError, report.Status)
	assert.Contains(t, report.Message, "unavailable")
}

func gaugeValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name && len(family.GetMetric()) > 0 {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func TestRestoredOscillatingAlarmCountsInGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics.InitWith(registry)
	before := gaugeValue(t, registry, "plantwatch_alarms_oscillating")

	cfg, model := testConfig(t)
	restored := alarms.Alarm{
		ID:          "A1",
		TagID:       "T1",
		State:       alarms.StateActive,
		Timestamp:   t0.Add(-2 * time.Minute),
		Published:   alarms.Published{State: alarms.StateTerminate, Timestamp: t0.Add(-3 * time.Minute)},
		Oscillation: alarms.Oscillation{Transitions: []time.Time{t0.Add(-2 * time.Minute)}, Oscillating: true},
	}
	e, err := New(context.Background(), cfg, model, Options{
		Clock:    &fixedClock{now: t0},
		Snapshot: staticSnapshot{
			alarms: map[string]alarms.Alarm{"A1": restored},
			tags:   map[string]tags.Tag{"T1": {ID: "T1", Value: 20.0, SourceTime: t0.Add(-2 * time.Minute)}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, before+1, gaugeValue(t, registry, "plantwatch_alarms_oscillating"))

	tag, err := e.TagService.Get("T1")
	require.NoError(t, err)
	outcome, err := e.Evaluator.Settle(context.Background(), tag, "A1")
	require.NoError(t, err)
	assert.True(t, outcome.Changed)
	assert.Equal(t, alarms.StateActive, outcome.Alarm.Published.State)
	assert.Equal(t, before, gaugeValue(t, registry, "plantwatch_alarms_oscillating"))
}
