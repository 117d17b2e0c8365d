package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
	tags "plantwatch/internal/tags/domain"
)

type stubAlarmReader struct {
	mu    sync.Mutex
	alarm alarms.Alarm
}

func (s *stubAlarmReader) Get(_ string) (alarms.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarm, nil
}

func (s *stubAlarmReader) Set(alarm alarms.Alarm) {
	s.mu.Lock()
	s.alarm = alarm
	s.mu.Unlock()
}

type stubTagReader struct {
	tag tags.Tag
}

func (s stubTagReader) Get(_ string) (tags.Tag, error) {
	return s.tag, nil
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.contents = append(r.contents, content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *recordingChannel) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contents) == 0 {
		return ""
	}
	return r.contents[len(r.contents)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func activeAlarm(id string, at time.Time) alarms.Alarm {
	return alarms.Alarm{
		ID:          id,
		TagID:       "tag-1",
		FaultFamily: "PUMP",
		FaultMember: "P-101",
		FaultCode:   2,
		Severity:    "high",
		Condition:   alarms.Condition{Type: alarms.ConditionThreshold, Operator: alarms.OperatorGreater, Threshold: 100},
		State:       alarms.StateActive,
		Timestamp:   at,
		Published:   alarms.Published{State: alarms.StateActive, Timestamp: at, Info: "pressure high"},
	}
}

func activeEvent(alarm alarms.Alarm) alarmapp.AlarmEvent {
	return alarmapp.AlarmEvent{Type: alarmapp.EventActive, Alarm: alarm}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloads := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		payloads <- payload
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithHeader("X-Token", "secret"))
	require.NoError(t, err)

	alarm := activeAlarm("alarm-1", time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC))
	notifier, err := NewNotifier(
		&stubAlarmReader{alarm: alarm},
		stubTagReader{tag: tags.Tag{ID: "tag-1", Name: "Discharge Pressure", Value: 123.45}},
		channel,
		nil,
		WithConsoleURLResolver(func(_ context.Context, alarm alarms.Alarm, _ *tags.Tag) string {
			return "http://console.local/alarms/" + alarm.ID
		}),
	)
	require.NoError(t, err)

	notifier.Notify(context.Background(), activeEvent(alarm))

	select {
	case payload := <-payloads:
		require.Equal(t, "text", payload.MsgType)
		require.NotNil(t, payload.Text)
		for _, want := range []string{
			"[Alarm raised] PUMP:P-101:2 (high)",
			"Tag: Discharge Pressure = 123.45",
			"Condition: > 100.00",
			"State: active (pressure high)",
			"Since: 2026-01-26T08:00:00Z",
			"Console: http://console.local/alarms/alarm-1",
		} {
			assert.Contains(t, payload.Text.Content, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

func TestWebhookChannelRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithRetry(3, time.Millisecond), WithMarkdown())
	require.NoError(t, err)
	require.NoError(t, channel.Send(context.Background(), "hello"))
	assert.EqualValues(t, 3, calls.Load())
}

func TestWebhookChannelDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithRetry(5, time.Millisecond))
	require.NoError(t, err)
	err = channel.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401: bad token")
	assert.EqualValues(t, 1, calls.Load())
}

func TestNotifierCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	alarm := activeAlarm("alarm-1", clock.Now())

	notifier, err := NewNotifier(&stubAlarmReader{alarm: alarm}, nil, channel, nil,
		WithClock(clock),
		WithCooldown(10*time.Minute),
	)
	require.NoError(t, err)

	notifier.Notify(context.Background(), activeEvent(alarm))
	notifier.Notify(context.Background(), activeEvent(alarm))
	assert.Equal(t, 1, channel.Count())

	clock.Add(11 * time.Minute)
	notifier.Notify(context.Background(), activeEvent(alarm))
	assert.Equal(t, 2, channel.Count())
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	alarm := activeAlarm("alarm-2", clock.Now())

	notifier, err := NewNotifier(&stubAlarmReader{alarm: alarm}, nil, channel, nil,
		WithClock(clock),
		WithDedupeWindow(30*time.Minute),
	)
	require.NoError(t, err)

	notifier.Notify(context.Background(), activeEvent(alarm))
	clock.Add(5 * time.Minute)
	notifier.Notify(context.Background(), activeEvent(alarm))
	assert.Equal(t, 1, channel.Count(), "identical content inside the window")

	alarm.Published.Info = "pressure very high"
	notifier.Notify(context.Background(), activeEvent(alarm))
	assert.Equal(t, 2, channel.Count(), "changed content is sent")
}

func TestNotifierEscalation(t *testing.T) {
	channel := &recordingChannel{}
	alarm := activeAlarm("alarm-3", time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))

	notifier, err := NewNotifier(&stubAlarmReader{alarm: alarm}, nil, channel, nil,
		WithEscalation(20*time.Millisecond),
		WithSendTimeout(200*time.Millisecond),
	)
	require.NoError(t, err)
	defer notifier.Close()

	notifier.Notify(context.Background(), activeEvent(alarm))

	require.Eventually(t, func() bool { return channel.Count() >= 2 }, 500*time.Millisecond, 5*time.Millisecond)
	assert.Contains(t, channel.Latest(), "[Alarm still active]")
	assert.Zero(t, notifier.escalations.size())
}

func TestNotifierEscalationSeverityFloor(t *testing.T) {
	channel := &recordingChannel{}
	alarm := activeAlarm("alarm-4", time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))
	alarm.Severity = "medium"

	notifier, err := NewNotifier(&stubAlarmReader{alarm: alarm}, nil, channel, nil,
		WithEscalation(10*time.Millisecond),
		WithEscalationSeverity("critical"),
	)
	require.NoError(t, err)
	defer notifier.Close()

	notifier.Notify(context.Background(), activeEvent(alarm))
	assert.Zero(t, notifier.escalations.size())
	assert.Equal(t, 1, channel.Count())
}

func TestNotifierTerminateCancelsEscalation(t *testing.T) {
	channel := &recordingChannel{}
	reader := &stubAlarmReader{}
	alarm := activeAlarm("alarm-5", time.Date(2026, 1, 26, 13, 0, 0, 0, time.UTC))
	reader.Set(alarm)

	notifier, err := NewNotifier(reader, nil, channel, nil, WithEscalation(30*time.Millisecond))
	require.NoError(t, err)
	defer notifier.Close()

	notifier.Notify(context.Background(), activeEvent(alarm))
	alarm.State = alarms.StateTerminate
	alarm.Published.State = alarms.StateTerminate
	reader.Set(alarm)
	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventTerminate, Alarm: alarm})

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 2, channel.Count())
	assert.Contains(t, channel.Latest(), "[Alarm cleared]")
}

type panickingNotifier struct{}

func (panickingNotifier) Notify(context.Context, alarmapp.AlarmEvent) {
	panic(errors.New("boom"))
}

func TestMultiNotifierFansOut(t *testing.T) {
	first := &recordingChannel{}
	second := &recordingChannel{}
	a, err := NewNotifier(&stubAlarmReader{}, nil, first, nil)
	require.NoError(t, err)
	b, err := NewNotifier(&stubAlarmReader{}, nil, second, nil)
	require.NoError(t, err)

	multi := NewMultiNotifier(nil, a, nil, panickingNotifier{}, b)
	assert.Equal(t, 3, multi.Len())

	multi.Notify(context.Background(), activeEvent(activeAlarm("alarm-6", time.Now())))
	assert.Equal(t, 1, first.Count())
	assert.Equal(t, 1, second.Count(), "a panicking notifier does not stop the rest")
}
