package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/cache"
	tags "plantwatch/internal/tags/domain"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []AlarmEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event AlarmEvent) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) Events() []AlarmEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]AlarmEvent(nil), n.events...)
}

type recordingListener struct {
	mu      sync.Mutex
	updates [][]alarms.Alarm
}

func (l *recordingListener) NotifyOnUpdate(_ context.Context, _ tags.Tag, list []alarms.Alarm) {
	l.mu.Lock()
	l.updates = append(l.updates, list)
	l.mu.Unlock()
}

func (l *recordingListener) Last() []alarms.Alarm {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.updates) == 0 {
		return nil
	}
	return l.updates[len(l.updates)-1]
}

type reasonAppender struct {
	reason tags.Reason
}

func (a reasonAppender) Apply(tag tags.Tag) tags.Tag {
	if a.reason == "" {
		return tag
	}
	tag.Quality = tag.Quality.WithReason(a.reason, "entity down")
	return tag
}

type engine struct {
	alarms     *cache.Cache[string, alarms.Alarm]
	tags       *cache.Cache[string, tags.Tag]
	clock      *stepClock
	evaluator  *Evaluator
	aggregator *Aggregator
	notifier   *recordingNotifier
	listener   *recordingListener
}

func newEngine(t *testing.T, appender TagAppender, extra ...alarms.Alarm) *engine {
	t.Helper()
	ctx := context.Background()
	e := &engine{
		alarms:   cache.New[string, alarms.Alarm]("alarms"),
		tags:     cache.New[string, tags.Tag]("tags"),
		clock:    &stepClock{now: t0},
		notifier: &recordingNotifier{},
		listener: &recordingListener{},
	}

	list := append([]alarms.Alarm{{
		ID:        "A1",
		TagID:     "T1",
		Condition: alarms.Condition{Type: alarms.ConditionValue, Value: "UP"},
		State:     alarms.StateTerminate,
		Published: alarms.Published{State: alarms.StateTerminate},
	}}, extra...)
	alarmIDs := make([]string, 0, len(list))
	for _, alarm := range list {
		require.NoError(t, e.alarms.Put(ctx, alarm.ID, alarm))
		if alarm.TagID == "T1" {
			alarmIDs = append(alarmIDs, alarm.ID)
		}
	}
	require.NoError(t, e.tags.Put(ctx, "T1", tags.Tag{ID: "T1", Kind: tags.KindData, AlarmIDs: alarmIDs}))

	var err error
	e.evaluator, err = NewEvaluator(e.alarms, WithClock(e.clock))
	require.NoError(t, err)
	e.aggregator, err = NewAggregator(e.evaluator, WithAppender(appender), WithNotifier(e.notifier))
	require.NoError(t, err)
	e.aggregator.RegisterListener(e.listener)
	e.tags.RegisterListener(cache.EventUpdated, e.aggregator.TagListener())
	return e
}

func (e *engine) update(t *testing.T, value any, invalid map[tags.Reason]string) {
	t.Helper()
	_, err := e.tags.Compute(context.Background(), "T1", func(current tags.Tag, _ bool) (tags.Tag, bool, error) {
		now := e.clock.Now()
		return current.Apply(tags.Update{TagID: "T1", Value: value, Invalid: invalid, SourceTime: now}, now), true, nil
	})
	require.NoError(t, err)
}

func (e *engine) alarm(t *testing.T, id string) alarms.Alarm {
	t.Helper()
	alarm, err := e.alarms.Get(id)
	require.NoError(t, err)
	return alarm
}

func TestInvalidTagNeverActivatesAlarm(t *testing.T) {
	e := newEngine(t, nil)

	e.update(t, "UP", map[tags.Reason]string{tags.ReasonInaccessible: "link lost"})
	assert.Equal(t, alarms.StateTerminate, e.alarm(t, "A1").State)
	assert.Empty(t, e.notifier.Events())
	require.Len(t, e.listener.Last(), 1)

	e.update(t, "UP", nil)
	assert.Equal(t, alarms.StateActive, e.alarm(t, "A1").State)
	events := e.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventActive, events[0].Type)

	// An invalid tag may still keep or terminate an active alarm.
	e.update(t, "UP", map[tags.Reason]string{tags.ReasonInaccessible: "link lost"})
	assert.Equal(t, alarms.StateActive, e.alarm(t, "A1").State)
	e.update(t, "DOWN", map[tags.Reason]string{tags.ReasonInaccessible: "link lost"})
	assert.Equal(t, alarms.StateTerminate, e.alarm(t, "A1").State)
	assert.Len(t, e.notifier.Events(), 2)
}

func TestSupervisionQualityBlocksActivation(t *testing.T) {
	e := newEngine(t, reasonAppender{reason: tags.ReasonProcessDown})

	e.update(t, "UP", nil)
	assert.Equal(t, alarms.StateTerminate, e.alarm(t, "A1").State)
}

func TestRapidTogglesOscillate(t *testing.T) {
	e := newEngine(t, nil)

	values := []string{"UP", "DOWN"}
	for i := 0; i < 7; i++ {
		e.update(t, values[i%2], nil)
	}

	alarm := e.alarm(t, "A1")
	assert.True(t, alarm.Oscillating())
	assert.Equal(t, alarms.StateActive, alarm.State)
	// Transitions after the fifth are withheld; the visible state stays at the fourth.
	assert.Equal(t, alarms.StateTerminate, alarm.Published.State)
	assert.Len(t, e.notifier.Events(), 4)
	assert.Empty(t, e.listener.Last())
}

func TestSpreadTogglesDoNotOscillate(t *testing.T) {
	e := newEngine(t, nil)

	values := []string{"UP", "DOWN"}
	for i := 0; i < 5; i++ {
		e.update(t, values[i%2], nil)
		e.clock.Advance(14 * time.Second)
	}

	alarm := e.alarm(t, "A1")
	assert.False(t, alarm.Oscillating())
	assert.Equal(t, alarms.StateActive, alarm.Published.State)
	assert.Len(t, e.notifier.Events(), 5)
}

func TestEvaluationFailureIsIsolated(t *testing.T) {
	broken := alarms.Alarm{
		ID:        "A2",
		TagID:     "T1",
		Condition: alarms.Condition{Type: alarms.ConditionThreshold, Operator: alarms.OperatorGreater, Threshold: 10},
		State:     alarms.StateTerminate,
	}
	e := newEngine(t, nil, broken)

	e.update(t, "UP", nil)

	list := e.listener.Last()
	require.Len(t, list, 1)
	assert.Equal(t, "A1", list[0].ID)
	assert.Equal(t, alarms.StateActive, e.alarm(t, "A1").State)

	tag, err := e.tags.Get("T1")
	require.NoError(t, err)
	evaluated, err := e.evaluator.EvaluateAlarms(context.Background(), tag)
	require.Len(t, evaluated, 1)
	var evalErr *alarms.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, "A2", evalErr.AlarmID)
	assert.ErrorIs(t, err, alarms.ErrInvalidCondition)
}

func TestSupervisionChangePublishesOnlyChanges(t *testing.T) {
	e := newEngine(t, nil)
	e.update(t, "UP", nil)
	require.Len(t, e.notifier.Events(), 1)

	tag, err := e.tags.Get("T1")
	require.NoError(t, err)

	require.NoError(t, e.aggregator.OnSupervisionChange(context.Background(), tag))
	assert.Len(t, e.notifier.Events(), 1)
	assert.Empty(t, e.listener.Last())

	tag.Value = "DOWN"
	require.NoError(t, e.aggregator.OnSupervisionChange(context.Background(), tag))
	events := e.notifier.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventTerminate, events[1].Type)
	assert.Len(t, e.listener.Last(), 1)
}

func TestUninitialisedTagIsSkipped(t *testing.T) {
	e := newEngine(t, nil)
	tag, err := e.tags.Get("T1")
	require.NoError(t, err)

	require.NoError(t, e.aggregator.OnTagUpdate(context.Background(), tag))
	assert.Nil(t, e.listener.Last())
}

type switchAppender struct {
	mu   sync.Mutex
	down bool
}

func (a *switchAppender) Apply(tag tags.Tag) tags.Tag {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.down {
		tag.Quality = tag.Quality.WithReason(tags.ReasonProcessDown, "process down")
	}
	return tag
}

func (a *switchAppender) Set(down bool) {
	a.mu.Lock()
	a.down = down
	a.mu.Unlock()
}

func TestRecoveryDoesNotActivateTerminatedAlarm(t *testing.T) {
	appender := &switchAppender{down: true}
	e := newEngine(t, appender)
	ctx := context.Background()

	e.update(t, "UP", nil)
	assert.Equal(t, alarms.StateTerminate, e.alarm(t, "A1").State)
	assert.Empty(t, e.notifier.Events())

	appender.Set(false)
	tag, err := e.tags.Get("T1")
	require.NoError(t, err)
	require.NoError(t, e.aggregator.OnSupervisionChange(ctx, tag))

	alarm := e.alarm(t, "A1")
	assert.Equal(t, alarms.StateTerminate, alarm.State)
	assert.Equal(t, alarms.StateTerminate, alarm.Published.State)
	assert.Empty(t, e.notifier.Events())
	assert.Empty(t, e.listener.Last())

	e.clock.Advance(time.Second)
	e.update(t, "UP", nil)
	alarm = e.alarm(t, "A1")
	assert.Equal(t, alarms.StateActive, alarm.State)
	events := e.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventActive, events[0].Type)
}

func TestSupervisionDownTerminatesActiveAlarm(t *testing.T) {
	appender := &switchAppender{}
	e := newEngine(t, appender)
	ctx := context.Background()

	e.update(t, "UP", nil)
	require.Equal(t, alarms.StateActive, e.alarm(t, "A1").State)

	appender.Set(true)
	tag, err := e.tags.Get("T1")
	require.NoError(t, err)
	tag.Value = "DOWN"
	require.NoError(t, e.aggregator.OnSupervisionChange(ctx, tag))
	assert.Equal(t, alarms.StateTerminate, e.alarm(t, "A1").State)
	assert.Len(t, e.notifier.Events(), 2)
}
