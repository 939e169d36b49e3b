package peer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/rs/zerolog"
)

var (
	ErrMediaCapture  = errors.New("failed to capture local media")
	ErrClosed        = errors.New("controller closed")
	ErrNotJoined     = errors.New("not joined")
	ErrAlreadyJoined = errors.New("already joined")
)

type NoticeKind int

const (
	NoticeParticipantJoined NoticeKind = iota
	NoticeParticipantLeft
	NoticeLinkConnected
	NoticeLinkClosed
	NoticeStream
	NoticeChat
	NoticeMediaState
	NoticeScreenShare
	NoticeError
	NoticeLeft
)

// Notice reports a change the UI may want to render. Only the fields
// relevant to Kind are set.
type Notice struct {
	Kind        NoticeKind
	RemoteID    string
	Participant Participant
	Track       RemoteTrack
	Chat        models.ChatMessage
	Sharing     bool
	Err         error
}

type Config struct {
	UserID    string
	Username  string
	MeetingID string

	Transport  Transport
	Negotiator Negotiator
	Media      MediaSource
	Logger     *zerolog.Logger

	// Notify runs on the controller goroutine. It must not block or call
	// Leave.
	Notify func(Notice)
	Now    func() time.Time
}

type phase int

const (
	phaseNew phase = iota
	phaseJoining
	phaseRunning
	phaseClosed
)

// Controller keeps exactly one link per remote participant of a meeting.
// Every mutation of links, participants and local media happens on a single
// goroutine fed by transport events, session events and public calls.
type Controller struct {
	self      string
	username  string
	meetingID string

	transport  Transport
	negotiator Negotiator
	media      MediaSource
	notify     func(Notice)
	now        func() time.Time
	logger     zerolog.Logger

	mu    sync.Mutex
	phase phase

	mb        *mailbox
	done      chan struct{}
	leaveOnce sync.Once

	// owned by the controller goroutine
	stopping     bool
	local        LocalStream
	screen       Track
	audioOn      bool
	videoOn      bool
	links        map[string]*link
	participants map[string]*Participant
	transcript   []models.ChatMessage
}

func New(cfg Config) *Controller {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		self:         cfg.UserID,
		username:     cfg.Username,
		meetingID:    cfg.MeetingID,
		transport:    cfg.Transport,
		negotiator:   cfg.Negotiator,
		media:        cfg.Media,
		notify:       cfg.Notify,
		now:          now,
		mb:           newMailbox(),
		done:         make(chan struct{}),
		links:        make(map[string]*link),
		participants: make(map[string]*Participant),
		logger: cfg.Logger.With().
			Str("component", "peer").
			Str("meetingID", cfg.MeetingID).
			Str("userID", cfg.UserID).
			Logger(),
	}
}

// Join captures local media and announces the participant. Nothing is sent
// when capture fails. The meeting lasts until Leave, ctx is done or the
// transport goes away.
func (c *Controller) Join(ctx context.Context) error {
	c.mu.Lock()
	switch c.phase {
	case phaseNew:
	case phaseClosed:
		c.mu.Unlock()
		return ErrClosed
	default:
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.phase = phaseJoining
	c.mu.Unlock()

	stream, err := c.media.CaptureUserMedia(ctx)
	if err != nil {
		c.mu.Lock()
		if c.phase == phaseJoining {
			c.phase = phaseNew
		}
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrMediaCapture, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != phaseJoining {
		stopAll(stream.tracks())
		return ErrClosed
	}

	err = c.transport.Send(models.EventJoinMeeting, models.JoinMeeting{
		UserID:    c.self,
		MeetingID: c.meetingID,
	})
	if err != nil {
		stopAll(stream.tracks())
		c.phase = phaseNew
		return fmt.Errorf("send join-meeting: %w", err)
	}

	c.local = stream
	c.audioOn = stream.Audio != nil && stream.Audio.Enabled()
	c.videoOn = stream.Video != nil && stream.Video.Enabled()
	c.phase = phaseRunning
	go c.run(ctx)

	c.logger.Info().Msg("join requested")
	return nil
}

// Leave tears the meeting down and returns once it is done. Teardown runs
// once no matter how many callers or exit paths race for it.
func (c *Controller) Leave() {
	c.mu.Lock()
	switch c.phase {
	case phaseRunning:
		c.phase = phaseClosed
		c.mu.Unlock()
		c.mb.push(func() { c.stopping = true })
	case phaseClosed:
		c.mu.Unlock()
	default:
		c.phase = phaseClosed
		c.mu.Unlock()
		c.teardown(false)
	}
	<-c.done
}

// Done is closed after teardown completes
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.phase = phaseClosed
		c.mu.Unlock()
		c.teardown(true)
	}()

	events := c.transport.Events()
	for {
		select {
		case <-c.mb.ready:
			for _, fn := range c.mb.drain() {
				fn()
			}
			if c.stopping {
				c.logger.Info().Msg("leaving meeting")
				return
			}

		case env, ok := <-events:
			if !ok {
				c.logger.Warn().Msg("signaling connection lost")
				return
			}
			c.dispatch(env)

		case <-ctx.Done():
			c.logger.Info().Err(ctx.Err()).Msg("meeting cancelled")
			return
		}
	}
}

func (c *Controller) teardown(joined bool) {
	c.leaveOnce.Do(func() {
		if c.screen != nil {
			c.screen.Stop()
			c.screen = nil
		}
		stopAll(c.local.tracks())

		for id, l := range c.links {
			delete(c.links, id)
			c.destroy(l)
		}

		if joined {
			err := c.transport.Send(models.EventLeaveMeeting, models.LeaveMeeting{
				UserID:    c.self,
				MeetingID: c.meetingID,
			})
			if err != nil {
				c.logger.Debug().Err(err).Msg("leave-meeting not sent")
			}
		}
		if err := c.transport.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("failed to close transport")
		}

		c.emit(Notice{Kind: NoticeLeft})
		close(c.done)
	})
}

// do runs fn on the controller goroutine and waits for it
func (c *Controller) do(fn func()) error {
	c.mu.Lock()
	p := c.phase
	c.mu.Unlock()

	switch p {
	case phaseNew, phaseJoining:
		return ErrNotJoined
	case phaseClosed:
		return ErrClosed
	}

	finished := make(chan struct{})
	c.mb.push(func() {
		fn()
		close(finished)
	})

	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) emit(n Notice) {
	if c.notify != nil {
		c.notify(n)
	}
}

func (c *Controller) dispatch(env models.Envelope) {
	var err error
	switch env.Event {
	case models.EventParticipantsList:
		err = c.onParticipants(env)
	case models.EventUserJoined:
		err = c.onUserJoined(env)
	case models.EventUserLeft:
		err = c.onUserLeft(env)
	case models.EventSignal:
		err = c.onSignal(env)
	case models.EventChatMessage:
		err = c.onChat(env)
	case models.EventMediaStateChange:
		err = c.onMediaState(env)
	case models.EventError:
		err = c.onError(env)
	default:
		c.logger.Debug().Str("event", string(env.Event)).Msg("ignoring event")
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("event", string(env.Event)).Msg("failed to handle event")
	}
}

// onParticipants dials everyone already in the room. The newcomer always
// initiates, so two members never both offer to each other.
func (c *Controller) onParticipants(env models.Envelope) error {
	var list []models.ParticipantInfo
	if err := env.Decode(&list); err != nil {
		return err
	}
	for _, p := range list {
		if p.UserID == c.self {
			continue
		}
		c.addParticipant(p)
		if _, ok := c.links[p.UserID]; ok {
			continue
		}
		c.openLink(p.UserID, true)
	}
	return nil
}

// onUserJoined records the newcomer and waits for its offer
func (c *Controller) onUserJoined(env models.Envelope) error {
	var p models.ParticipantInfo
	if err := env.Decode(&p); err != nil {
		return err
	}
	if p.UserID == c.self {
		return nil
	}
	// A known participant announced again has rejoined and its link belongs
	// to the old session. An unknown one may already have a responder link
	// from a signal that overtook this announcement; that link stays.
	if _, known := c.participants[p.UserID]; known {
		if l, ok := c.links[p.UserID]; ok {
			c.logger.Debug().Str("remoteID", p.UserID).Msg("dropping link to rejoined participant")
			c.closeLink(l)
		}
	}
	c.addParticipant(p)
	return nil
}

func (c *Controller) onUserLeft(env models.Envelope) error {
	var ev models.UserLeft
	if err := env.Decode(&ev); err != nil {
		return err
	}
	if l, ok := c.links[ev.UserID]; ok {
		c.closeLink(l)
	}
	if p, ok := c.participants[ev.UserID]; ok {
		delete(c.participants, ev.UserID)
		c.emit(Notice{Kind: NoticeParticipantLeft, RemoteID: ev.UserID, Participant: *p})
	}
	return nil
}

func (c *Controller) onSignal(env models.Envelope) error {
	var d models.SignalDelivery
	if err := env.Decode(&d); err != nil {
		return err
	}
	if d.UserID == "" || d.UserID == c.self {
		return nil
	}

	l, ok := c.links[d.UserID]
	if !ok {
		if l = c.openLink(d.UserID, false); l == nil {
			return nil
		}
	}
	if err := l.session.ApplySignal(d.Signal); err != nil {
		return fmt.Errorf("apply signal from %s: %w", d.UserID, err)
	}
	return nil
}

func (c *Controller) onError(env models.Envelope) error {
	var p models.ErrorPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	c.logger.Warn().Str("error", p.Error).Msg("server rejected request")
	c.emit(Notice{Kind: NoticeError, Err: errors.New(p.Error)})
	return nil
}

func (c *Controller) openLink(remoteID string, initiator bool) *link {
	l := &link{
		remoteID:  remoteID,
		initiator: initiator,
		state:     StateNegotiating,
		video:     c.activeVideo(),
	}
	c.links[remoteID] = l

	emit := func(ev SessionEvent) {
		c.mb.push(func() { c.onSessionEvent(l, ev) })
	}
	session, err := c.negotiator.NewSession(remoteID, initiator, LocalStream{
		Audio: c.local.Audio,
		Video: l.video,
	}, emit)
	if err != nil {
		delete(c.links, remoteID)
		l.state = StateClosed
		c.logger.Warn().Err(err).Str("remoteID", remoteID).Msg("failed to create session")
		return nil
	}
	l.session = session

	c.logger.Debug().Str("remoteID", remoteID).Bool("initiator", initiator).Msg("link created")
	return l
}

func (c *Controller) onSessionEvent(l *link, ev SessionEvent) {
	if c.links[l.remoteID] != l {
		c.logger.Trace().
			Str("remoteID", l.remoteID).
			Stringer("kind", ev.Kind).
			Msg("ignoring event from stale session")
		return
	}

	switch ev.Kind {
	case SessionSignal:
		err := c.transport.Send(models.EventSignal, models.SignalRequest{
			To:     l.remoteID,
			From:   c.self,
			Signal: ev.Signal,
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("remoteID", l.remoteID).Msg("failed to send signal")
		}
	case SessionConnect:
		c.connected(l)
	case SessionStream:
		l.remoteTracks = append(l.remoteTracks, ev.Track)
		c.connected(l)
		c.emit(Notice{Kind: NoticeStream, RemoteID: l.remoteID, Track: ev.Track})
	case SessionError:
		c.logger.Warn().Err(ev.Err).Str("remoteID", l.remoteID).Msg("session failed")
		c.closeLink(l)
	case SessionClose:
		c.closeLink(l)
	}
}

func (c *Controller) connected(l *link) {
	if l.state != StateNegotiating {
		return
	}
	l.state = StateConnected
	c.logger.Info().Str("remoteID", l.remoteID).Msg("peer connected")
	c.emit(Notice{Kind: NoticeLinkConnected, RemoteID: l.remoteID})

	if active := c.activeVideo(); l.video != active {
		c.replaceVideo(l, active)
	}
}

func (c *Controller) closeLink(l *link) {
	if c.links[l.remoteID] == l {
		delete(c.links, l.remoteID)
	}
	c.destroy(l)
	c.emit(Notice{Kind: NoticeLinkClosed, RemoteID: l.remoteID})
}

// destroy never fails the caller; the session may already be gone
func (c *Controller) destroy(l *link) {
	l.state = StateClosed
	if l.session == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("remoteID", l.remoteID).Msg("session destroy panicked")
		}
	}()
	if err := l.session.Destroy(); err != nil {
		c.logger.Debug().Err(err).Str("remoteID", l.remoteID).Msg("session destroy")
	}
}

// Snapshot is a copy of the controller state
type Snapshot struct {
	UserID        string
	Links         []LinkInfo
	Participants  []Participant
	Transcript    []models.ChatMessage
	AudioEnabled  bool
	VideoEnabled  bool
	ScreenSharing bool
}

func (c *Controller) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := c.do(func() {
		s = Snapshot{
			UserID:        c.self,
			Transcript:    slices.Clone(c.transcript),
			AudioEnabled:  c.audioOn,
			VideoEnabled:  c.videoOn,
			ScreenSharing: c.screen != nil,
		}
		for _, l := range c.links {
			s.Links = append(s.Links, l.info())
		}
		for _, p := range c.participants {
			s.Participants = append(s.Participants, c.view(p))
		}
	})
	if err != nil {
		return Snapshot{}, err
	}

	slices.SortFunc(s.Links, func(a, b LinkInfo) int { return cmp.Compare(a.RemoteID, b.RemoteID) })
	slices.SortFunc(s.Participants, func(a, b Participant) int { return cmp.Compare(a.UserID, b.UserID) })
	return s, nil
}

func stopAll(tracks []Track) {
	for _, t := range tracks {
		t.Stop()
	}
}
