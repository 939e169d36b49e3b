package peer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func TestJoinAnnouncesParticipant(t *testing.T) {
	h := newHarness(t, "a")
	h.join(t)

	sent := h.tr.sentOf(models.EventJoinMeeting)
	require.Len(t, sent, 1)

	var req models.JoinMeeting
	require.NoError(t, sent[0].Decode(&req))
	assert.Equal(t, models.JoinMeeting{UserID: "a", MeetingID: "m1"}, req)

	assert.ErrorIs(t, h.ctrl.Join(context.Background()), ErrAlreadyJoined)
}

func TestMediaCaptureFailureAbortsJoin(t *testing.T) {
	h := newHarness(t, "a")
	h.media.err = errors.New("permission denied")

	err := h.ctrl.Join(context.Background())
	require.ErrorIs(t, err, ErrMediaCapture)
	assert.Empty(t, h.tr.sentOf(models.EventJoinMeeting))

	_, err = h.ctrl.Snapshot()
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestParticipantsListCreatesInitiatorLinks(t *testing.T) {
	h := newHarness(t, "a")
	h.join(t)

	h.tr.deliver(t, models.EventParticipantsList, participants("b", "c", "a"))

	assert.Eventually(t, func() bool { return h.neg.count() == 2 }, waitFor, tick)
	for _, id := range []string{"b", "c"} {
		s := h.neg.latest(id)
		require.NotNil(t, s, id)
		assert.True(t, s.initiator, id)
	}
	assert.Nil(t, h.neg.latest("a"))

	// offers emitted inside NewSession still reach the transport
	assert.Eventually(t, func() bool { return len(h.tr.sentOf(models.EventSignal)) == 2 }, waitFor, tick)
	var req models.SignalRequest
	require.NoError(t, h.tr.sentOf(models.EventSignal)[0].Decode(&req))
	assert.Equal(t, "a", req.From)

	snap := h.snapshot(t)
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, "user-b", snap.Participants[0].Username)
	assert.Equal(t, StateNegotiating, snap.Participants[0].Link)
}

func TestUserJoinedCreatesNoLink(t *testing.T) {
	h := newHarness(t, "a")
	h.join(t)

	h.tr.deliver(t, models.EventParticipantsList, participants())
	h.tr.deliver(t, models.EventUserJoined, participants("b")[0])

	assert.Eventually(t, func() bool {
		s, err := h.ctrl.Snapshot()
		return err == nil && len(s.Participants) == 1
	}, waitFor, tick)

	snap := h.snapshot(t)
	assert.Equal(t, StateIdle, snap.Participants[0].Link)
	assert.Empty(t, snap.Links)
	assert.Zero(t, h.neg.count())
	assert.Len(t, h.noticesOf(NoticeParticipantJoined), 1)
}

func TestSignalBeforeAnnounceCreatesResponder(t *testing.T) {
	h := newHarness(t, "a")
	h.join(t)

	h.tr.deliver(t, models.EventSignal, models.SignalDelivery{
		UserID: "b",
		Signal: []byte(`{"type":"offer","sdp":"v=0"}`),
	})

	assert.Eventually(t, func() bool {
		s := h.neg.latest("b")
		return s != nil && s.appliedCount() == 1
	}, waitFor, tick)
	assert.False(t, h.neg.latest("b").initiator)

	// a second blob lands on the same link
	h.tr.deliver(t, models.EventSignal, models.SignalDelivery{
		UserID: "b",
		Signal: []byte(`{"type":"candidate","candidate":{"candidate":"x"}}`),
	})
	assert.Eventually(t, func() bool { return h.neg.latest("b").appliedCount() == 2 }, waitFor, tick)
	assert.Equal(t, 1, h.neg.count())
}

func TestLateAnnounceKeepsResponderLink(t *testing.T) {
	h := newHarness(t, "a")
	h.join(t)

	h.tr.deliver(t, models.EventParticipantsList, participants())
	h.tr.deliver(t, models.EventSignal, models.SignalDelivery{
		UserID: "b",
		Signal: []byte(`{"type":"offer","sdp":"v=0"}`),
	})
	h.tr.deliver(t, models.EventUserJoined, participants("b")[0])

	assert.Eventually(t, func() bool {
		s, err := h.ctrl.Snapshot()
		return err == nil && len(s.Participants) == 1
	}, waitFor, tick)

	snap := h.snapshot(t)
	require.Len(t, snap.Links, 1)
	assert.Equal(t, "b", snap.Links[0].RemoteID)
	assert.False(t, snap.Links[0].Initiator)
	assert.Equal(t, StateNegotiating, snap.Participants[0].Link)
	assert.Equal(t, 1, h.neg.count())
	assert.Zero(t, h.neg.latest("b").destroyCount())
	assert.Empty(t, h.noticesOf(NoticeLinkClosed))
}

func TestRejoinReplacesStaleLink(t *testing.T) {
	h := newHarness(t, "a")
	h.join(t)

	h.tr.deliver(t, models.EventParticipantsList, participants())
	h.tr.deliver(t, models.EventUserJoined, participants("b")[0])
	h.tr.deliver(t, models.EventSignal, models.SignalDelivery{
		UserID: "b",
		Signal: []byte(`{"type":"offer","sdp":"v=0"}`),
	})
	assert.Eventually(t, func() bool { return h.neg.count() == 1 }, waitFor, tick)
	old := h.neg.latest("b")

	// b comes back on a new connection without a user-left in between
	h.tr.deliver(t, models.EventUserJoined, participants("b")[0])
	assert.Eventually(t, func() bool { return old.destroyCount() == 1 }, waitFor, tick)

	_, ok := h.link("b")
	assert.False(t, ok)
	assert.Len(t, h.noticesOf(NoticeParticipantJoined), 1)
}

// relay carries frames between two harnesses the way the server would
func relay(t *testing.T, from, to *harness, fromID string, already int) int {
	t.Helper()
	sent := from.tr.sentOf(models.EventSignal)
	for _, env := range sent[already:] {
		var req models.SignalRequest
		require.NoError(t, env.Decode(&req))
		to.tr.deliver(t, models.EventSignal, models.SignalDelivery{UserID: fromID, Signal: req.Signal})
	}
	return len(sent)
}

func TestTwoPartyMesh(t *testing.T) {
	a := newHarness(t, "a")
	b := newHarness(t, "b")

	a.join(t)
	a.tr.deliver(t, models.EventParticipantsList, participants())

	b.join(t)
	a.tr.deliver(t, models.EventUserJoined, participants("b")[0])
	b.tr.deliver(t, models.EventParticipantsList, participants("a"))

	assert.Eventually(t, func() bool { return len(b.tr.sentOf(models.EventSignal)) == 1 }, waitFor, tick)
	relay(t, b, a, "b", 0)

	assert.Eventually(t, func() bool { return a.neg.latest("b") != nil }, waitFor, tick)

	// exactly one initiator per pair
	assert.True(t, b.neg.latest("a").initiator)
	assert.False(t, a.neg.latest("b").initiator)
	assert.Equal(t, 1, a.neg.count())
	assert.Equal(t, 1, b.neg.count())

	a.neg.latest("b").emit(SessionEvent{Kind: SessionConnect})
	b.neg.latest("a").emit(SessionEvent{Kind: SessionStream, Track: RemoteTrack{ID: "a-cam", Kind: models.MediaVideo}})

	assert.Eventually(t, func() bool { return a.linkState("b") == StateConnected }, waitFor, tick)
	assert.Eventually(t, func() bool { return b.linkState("a") == StateConnected }, waitFor, tick)

	l, ok := b.link("a")
	require.True(t, ok)
	assert.Equal(t, []RemoteTrack{{ID: "a-cam", Kind: models.MediaVideo}}, l.RemoteTracks)
	assert.Len(t, b.noticesOf(NoticeStream), 1)
}

func TestSessionErrorClosesOnlyThatLink(t *testing.T) {
	h := newHarness(t, "a")
	h.join(t)
	h.tr.deliver(t, models.EventParticipantsList, participants("b", "c"))
	assert.Eventually(t, func() bool { return h.neg.count() == 2 }, waitFor, tick)

	h.neg.latest("b").emit(SessionEvent{Kind: SessionError, Err: errors.New("ice failed")})

	assert.Eventually(t, func() bool {
		_, ok := h.link("b")
		return !ok
	}, waitFor, tick)
	assert.Equal(t, 1, h.neg.latest("b").destroyCount())
	assert.Zero(t, h.neg.latest("c").destroyCount())
	assert.Equal(t, StateNegotiating, h.linkState("c"))

	// participant is still in the room, just without a link
	snap := h.snapshot(t)
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, StateIdle, snap.Participants[0].Link)
}

func TestUserLeftDestroysLink(t *testing.T) {
	h := newHarness(t, "a")
	h.join(t)
	h.tr.deliver(t, models.EventParticipantsList, participants("b"))
	assert.Eventually(t, func() bool { return h.neg.count() == 1 }, waitFor, tick)

	h.tr.deliver(t, models.EventUserLeft, models.UserLeft{UserID: "b"})

	assert.Eventually(t, func() bool {
		s, err := h.ctrl.Snapshot()
		return err == nil && len(s.Links) == 0 && len(s.Participants) == 0
	}, waitFor, tick)
	assert.Equal(t, 1, h.neg.latest("b").destroyCount())
	assert.Len(t, h.noticesOf(NoticeParticipantLeft), 1)
}

func TestStaleSessionEventsAreIgnored(t *testing.T) {
	h := newHarness(t, "a")
	h.join(t)
	h.tr.deliver(t, models.EventParticipantsList, participants("b"))
	assert.Eventually(t, func() bool { return h.neg.count() == 1 }, waitFor, tick)
	old := h.neg.latest("b")

	// b joins again from a new connection, the old link is dropped
	h.tr.deliver(t, models.EventUserJoined, participants("b")[0])
	assert.Eventually(t, func() bool { return old.destroyCount() == 1 }, waitFor, tick)

	h.tr.deliver(t, models.EventSignal, models.SignalDelivery{
		UserID: "b",
		Signal: []byte(`{"type":"offer","sdp":"v=0"}`),
	})
	assert.Eventually(t, func() bool { return h.neg.count() == 2 }, waitFor, tick)

	old.emit(SessionEvent{Kind: SessionConnect})
	old.emit(SessionEvent{Kind: SessionClose})

	// the fresh responder link is untouched
	snap := h.snapshot(t)
	require.Len(t, snap.Links, 1)
	assert.False(t, snap.Links[0].Initiator)
	assert.Equal(t, StateNegotiating, snap.Links[0].State)
	assert.Zero(t, h.neg.latest("b").destroyCount())
}

func TestLeaveRunsOnce(t *testing.T) {
	h := newHarness(t, "a")
	h.join(t)
	h.tr.deliver(t, models.EventParticipantsList, participants("b"))
	assert.Eventually(t, func() bool { return h.neg.count() == 1 }, waitFor, tick)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.ctrl.Leave()
		}()
	}
	h.tr.disconnect()
	wg.Wait()

	select {
	case <-h.ctrl.Done():
	default:
		t.Fatal("done not closed after Leave returned")
	}

	assert.Len(t, h.tr.sentOf(models.EventLeaveMeeting), 1)
	assert.Equal(t, 1, h.tr.closeCount())
	assert.Equal(t, 1, h.neg.latest("b").destroyCount())
	assert.True(t, h.media.mic.isStopped())
	assert.True(t, h.media.camera.isStopped())
	assert.Len(t, h.noticesOf(NoticeLeft), 1)

	_, err := h.ctrl.Snapshot()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.ctrl.Join(context.Background()), ErrClosed)
}

func TestTransportLossLeaves(t *testing.T) {
	h := newHarness(t, "a")
	h.join(t)
	h.tr.deliver(t, models.EventParticipantsList, participants("b"))
	assert.Eventually(t, func() bool { return h.neg.count() == 1 }, waitFor, tick)

	h.tr.disconnect()

	select {
	case <-h.ctrl.Done():
	case <-time.After(waitFor):
		t.Fatal("controller did not shut down")
	}
	assert.Equal(t, 1, h.neg.latest("b").destroyCount())
	assert.True(t, h.media.camera.isStopped())
	assert.Equal(t, 1, h.tr.closeCount())
}

func TestContextCancelLeaves(t *testing.T) {
	h := newHarness(t, "a")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.ctrl.Join(ctx))

	cancel()

	select {
	case <-h.ctrl.Done():
	case <-time.After(waitFor):
		t.Fatal("controller did not shut down")
	}
	assert.Len(t, h.tr.sentOf(models.EventLeaveMeeting), 1)
}

func TestLeaveBeforeJoin(t *testing.T) {
	h := newHarness(t, "a")
	h.ctrl.Leave()

	assert.Empty(t, h.tr.sentOf(models.EventLeaveMeeting))
	assert.Equal(t, 1, h.tr.closeCount())
	assert.ErrorIs(t, h.ctrl.Join(context.Background()), ErrClosed)
}

func TestServerErrorIsReported(t *testing.T) {
	h := newHarness(t, "a")
	h.join(t)
	h.tr.deliver(t, models.EventError, models.ErrorPayload{Error: "unable to resolve user"})

	assert.Eventually(t, func() bool { return len(h.noticesOf(NoticeError)) == 1 }, waitFor, tick)
	assert.EqualError(t, h.noticesOf(NoticeError)[0].Err, "unable to resolve user")
}
