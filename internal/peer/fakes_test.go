package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeTrack struct {
	id   string
	kind models.MediaKind

	mu      sync.Mutex
	enabled bool
	stopped bool
	ended   chan struct{}
	once    sync.Once
}

func newFakeTrack(id string, kind models.MediaKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true, ended: make(chan struct{})}
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() models.MediaKind { return t.kind }

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() {
	t.once.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
		close(t.ended)
	})
}

func (t *fakeTrack) Ended() <-chan struct{} { return t.ended }

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeMedia struct {
	err       error
	screenErr error

	mu      sync.Mutex
	mic     *fakeTrack
	camera  *fakeTrack
	screens []*fakeTrack
}

func (m *fakeMedia) CaptureUserMedia(context.Context) (LocalStream, error) {
	if m.err != nil {
		return LocalStream{}, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mic = newFakeTrack("mic", models.MediaAudio)
	m.camera = newFakeTrack("camera", models.MediaVideo)
	return LocalStream{Audio: m.mic, Video: m.camera}, nil
}

func (m *fakeMedia) CaptureScreen(context.Context) (Track, error) {
	if m.screenErr != nil {
		return nil, m.screenErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := newFakeTrack(fmt.Sprintf("screen-%d", len(m.screens)+1), models.MediaVideo)
	m.screens = append(m.screens, t)
	return t, nil
}

func (m *fakeMedia) screen(i int) *fakeTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screens[i]
}

type replacement struct{ from, to string }

type fakeSession struct {
	remoteID  string
	initiator bool
	emit      func(SessionEvent)

	mu        sync.Mutex
	applied   []json.RawMessage
	replaced  []replacement
	destroyed int
}

func (s *fakeSession) ApplySignal(signal json.RawMessage) error {
	s.mu.Lock()
	s.applied = append(s.applied, signal)
	s.mu.Unlock()
	return nil
}

func trackID(t Track) string {
	if t == nil {
		return ""
	}
	return t.ID()
}

func (s *fakeSession) ReplaceOutgoingTrack(old, next Track) error {
	s.mu.Lock()
	s.replaced = append(s.replaced, replacement{trackID(old), trackID(next)})
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed++
	if s.destroyed > 1 {
		return errors.New("already destroyed")
	}
	return nil
}

func (s *fakeSession) appliedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

func (s *fakeSession) replacements() []replacement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]replacement(nil), s.replaced...)
}

func (s *fakeSession) destroyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// fakeNegotiator opens sessions that emit an offer right away when they
// initiate, before NewSession returns
type fakeNegotiator struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (n *fakeNegotiator) NewSession(remoteID string, initiator bool, _ LocalStream, emit func(SessionEvent)) (Session, error) {
	s := &fakeSession{remoteID: remoteID, initiator: initiator, emit: emit}
	n.mu.Lock()
	n.sessions = append(n.sessions, s)
	n.mu.Unlock()

	if initiator {
		emit(SessionEvent{Kind: SessionSignal, Signal: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)})
	}
	return s, nil
}

// latest returns the newest session opened to remoteID
func (n *fakeNegotiator) latest(remoteID string) *fakeSession {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sessions) - 1; i >= 0; i-- {
		if n.sessions[i].remoteID == remoteID {
			return n.sessions[i]
		}
	}
	return nil
}

func (n *fakeNegotiator) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sessions)
}

type fakeTransport struct {
	events chan models.Envelope
	drop   sync.Once

	mu       sync.Mutex
	sent     []models.Envelope
	failing  map[models.EventType]bool
	closed   bool
	closures int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:  make(chan models.Envelope, 64),
		failing: make(map[models.EventType]bool),
	}
}

func (t *fakeTransport) Send(event models.EventType, data any) error {
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	if t.failing[event] {
		return errors.New("send failed")
	}
	t.sent = append(t.sent, env)
	return nil
}

func (t *fakeTransport) Events() <-chan models.Envelope { return t.events }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.closures++
	return nil
}

func (t *fakeTransport) fail(event models.EventType) {
	t.mu.Lock()
	t.failing[event] = true
	t.mu.Unlock()
}

func (t *fakeTransport) deliver(tb testing.TB, event models.EventType, data any) {
	tb.Helper()
	env, err := models.NewEnvelope(event, data)
	require.NoError(tb, err)
	t.events <- env
}

func (t *fakeTransport) disconnect() {
	t.drop.Do(func() { close(t.events) })
}

func (t *fakeTransport) sentOf(event models.EventType) []models.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.Envelope
	for _, env := range t.sent {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closures
}

type harness struct {
	ctrl  *Controller
	tr    *fakeTransport
	neg   *fakeNegotiator
	media *fakeMedia

	mu      sync.Mutex
	notices []Notice
}

func newHarness(t *testing.T, userID string) *harness {
	t.Helper()
	logger := zerolog.Nop()
	h := &harness{
		tr:    newFakeTransport(),
		neg:   &fakeNegotiator{},
		media: &fakeMedia{},
	}
	h.ctrl = New(Config{
		UserID:     userID,
		Username:   "user-" + userID,
		MeetingID:  "m1",
		Transport:  h.tr,
		Negotiator: h.neg,
		Media:      h.media,
		Logger:     &logger,
		Notify: func(n Notice) {
			h.mu.Lock()
			h.notices = append(h.notices, n)
			h.mu.Unlock()
		},
		Now: func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
	t.Cleanup(h.ctrl.Leave)
	return h
}

func (h *harness) join(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Join(context.Background()))
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	s, err := h.ctrl.Snapshot()
	require.NoError(t, err)
	return s
}

// link looks a link up without failing the test, so it can be polled
func (h *harness) link(remoteID string) (LinkInfo, bool) {
	s, err := h.ctrl.Snapshot()
	if err != nil {
		return LinkInfo{}, false
	}
	for _, l := range s.Links {
		if l.RemoteID == remoteID {
			return l, true
		}
	}
	return LinkInfo{}, false
}

func (h *harness) linkState(remoteID string) LinkState {
	l, ok := h.link(remoteID)
	if !ok {
		return StateIdle
	}
	return l.State
}

func (h *harness) noticesOf(kind NoticeKind) []Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Notice
	for _, n := range h.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func participants(ids ...string) []models.ParticipantInfo {
	out := make([]models.ParticipantInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.ParticipantInfo{UserID: id, Username: "user-" + id})
	}
	return out
}
