package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantwatch/internal/cache"
	supervision "plantwatch/internal/supervision/domain"
	tags "plantwatch/internal/tags/domain"
)

var base = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type heartbeatCall struct {
	id string
	ts time.Time
}

type stubHeartbeats struct{ calls []heartbeatCall }

func (s *stubHeartbeats) Heartbeat(_ context.Context, id string, ts time.Time) error {
	s.calls = append(s.calls, heartbeatCall{id: id, ts: ts})
	return nil
}

type statusCall struct {
	ref    supervision.Ref
	status supervision.Status
	at     time.Time
}

type stubChanger struct {
	calls []statusCall
	err   error
}

func (s *stubChanger) ChangeStatus(_ context.Context, ref supervision.Ref, status supervision.Status, at time.Time, _ string) (supervision.Record, error) {
	s.calls = append(s.calls, statusCall{ref: ref, status: status, at: at})
	return supervision.Record{}, s.err
}

type harness struct {
	service    *Service
	tags       *cache.Cache[string, tags.Tag]
	heartbeats *stubHeartbeats
	changer    *stubChanger
	updated    []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	owner := supervision.Ref{Kind: supervision.KindProcess, ID: "P1"}
	h := &harness{
		tags:       cache.New[string, tags.Tag]("tags"),
		heartbeats: &stubHeartbeats{},
		changer:    &stubChanger{},
	}
	for _, tag := range []tags.Tag{
		{ID: "T1", Kind: tags.KindData, ProcessIDs: []string{"P1"}},
		{ID: "P1.ALIVE", Kind: tags.KindAlive, Owner: owner},
		{ID: "P1.COMM", Kind: tags.KindCommFault, Owner: owner},
		{ID: "P1.STATE", Kind: tags.KindState, Owner: owner},
	} {
		require.NoError(t, h.tags.Put(ctx, tag.ID, tag))
	}
	h.tags.RegisterListener(cache.EventUpdated, func(_ context.Context, event cache.Event[string, tags.Tag]) error {
		h.updated = append(h.updated, event.Key)
		return nil
	})
	service, err := NewService(h.tags, h.heartbeats, h.changer, WithClock(fixedClock{now: base}))
	require.NoError(t, err)
	h.service = service
	return h
}

func TestDataUpdateWritesTagAndNotifies(t *testing.T) {
	h := newHarness(t)

	err := h.service.Update(context.Background(), tags.Update{
		TagID:            "T1",
		Value:            12.5,
		ValueDescription: "pressure high",
		SourceTime:       base.Add(-time.Second),
	})
	require.NoError(t, err)

	tag, err := h.service.Get("T1")
	require.NoError(t, err)
	assert.Equal(t, 12.5, tag.Value)
	assert.Equal(t, "pressure high", tag.ValueDescription)
	assert.Equal(t, base, tag.ServerTime)
	assert.True(t, tag.Valid())
	assert.Equal(t, []string{"T1"}, h.updated)
}

func TestOutOfOrderUpdateIsDiscarded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.service.Update(ctx, tags.Update{TagID: "T1", Value: 2.0, SourceTime: base}))
	require.NoError(t, h.service.Update(ctx, tags.Update{TagID: "T1", Value: 1.0, SourceTime: base.Add(-time.Minute)}))

	tag, err := h.service.Get("T1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, tag.Value)
	assert.Len(t, h.updated, 1)
}

func TestUpdateWithoutSourceTimeKeepsOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.service.Update(ctx, tags.Update{TagID: "T1", Value: 2.0, SourceTime: base}))
	require.NoError(t, h.service.Update(ctx, tags.Update{TagID: "T1", Value: 3.0}))

	tag, err := h.service.Get("T1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, tag.Value)
	assert.Equal(t, base, tag.SourceTime)

	require.NoError(t, h.service.Update(ctx, tags.Update{TagID: "T1", Value: 1.0, SourceTime: base.Add(-time.Minute)}))
	tag, err = h.service.Get("T1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, tag.Value)
	assert.Len(t, h.updated, 2)

	require.NoError(t, h.service.Update(ctx, tags.Update{TagID: "T1", Value: 4.0, DAQTime: base.Add(time.Second)}))
	tag, err = h.service.Get("T1")
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Second), tag.SourceTime)
}

func TestAliveUpdateIsAHeartbeat(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.service.Update(context.Background(), tags.Update{TagID: "P1.ALIVE", Value: 1, DAQTime: base}))

	require.Len(t, h.heartbeats.calls, 1)
	assert.Equal(t, "P1.ALIVE", h.heartbeats.calls[0].id)
	assert.Equal(t, base, h.heartbeats.calls[0].ts)
	assert.Empty(t, h.updated)
}

func TestCommFaultDrivesSupervision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.service.Update(ctx, tags.Update{TagID: "P1.COMM", Value: false, SourceTime: base.Add(5 * time.Minute)}))
	require.NoError(t, h.service.Update(ctx, tags.Update{TagID: "P1.COMM", Value: "true", SourceTime: base.Add(-time.Minute)}))

	require.Len(t, h.changer.calls, 2)
	assert.Equal(t, supervision.StatusDown, h.changer.calls[0].status)
	assert.Equal(t, supervision.StatusRunning, h.changer.calls[1].status)
	assert.Equal(t, "P1", h.changer.calls[1].ref.ID)
	for _, call := range h.changer.calls {
		assert.Equal(t, base, call.at)
	}

	assert.Error(t, h.service.Update(ctx, tags.Update{TagID: "P1.COMM", Value: "maybe"}))

	h.changer.err = supervision.ErrStaleStatus
	assert.NoError(t, h.service.Update(ctx, tags.Update{TagID: "P1.COMM", Value: true}))
}

func TestStateTagAndUnknownTagAreRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.service.Update(ctx, tags.Update{TagID: "P1.STATE", Value: "RUNNING"}), tags.ErrReadOnly)
	assert.ErrorIs(t, h.service.Update(ctx, tags.Update{TagID: "MISSING", Value: 1}), tags.ErrNotFound)
}

func TestListIsOrdered(t *testing.T) {
	h := newHarness(t)
	list := h.service.List()
	require.Len(t, list, 4)
	assert.Equal(t, "P1.ALIVE", list[0].ID)
	assert.Equal(t, "T1", list[3].ID)
}
