package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/rs/zerolog"
)

const (
	DefaultTTL           = time.Hour
	DefaultSweepInterval = 15 * time.Minute
)

// Session is one participant's presence in a room
type Session struct {
	ParticipantID string
	ConnectionID  string
	DisplayName   string
}

// Binding resolves a connection id back to the room and participant it serves
type Binding struct {
	MeetingID     string
	ParticipantID string
}

// JoinResult is returned by Join and handed to observers
type JoinResult struct {
	MeetingID string
	Session   Session
	// Roster lists the other members, never the joiner.
	Roster []models.ParticipantInfo
	// Recipients are the connection ids of the other members.
	Recipients []string
	// Replaced is the previous connection id when the join replaced a session.
	Replaced string
	// Repeated is set when the same connection joined again.
	Repeated bool
}

// LeaveResult is returned by Leave and handed to observers
type LeaveResult struct {
	MeetingID     string
	ParticipantID string
	WasPresent    bool
	RoomNowEmpty  bool
	Recipients    []string
}

// Observer is notified of membership changes while the room lock is held,
// so it sees changes in the same order the registry applied them.
// Implementations must not block and must not call back into the registry.
type Observer interface {
	Joined(JoinResult)
	Left(LeaveResult)
	Evicted(meetingID string)
	// Touched reports relayed traffic that kept the room alive
	Touched(meetingID string)
}

type room struct {
	id           string
	mu           sync.Mutex
	closed       bool
	participants map[string]Session
	lastActivity time.Time
}

// Registry owns the live meeting rooms. Operations on one room are
// serialized; operations on different rooms run in parallel.
type Registry struct {
	// mu guards rooms and conns. Never acquire a room lock while holding it.
	mu    sync.Mutex
	rooms map[string]*room
	conns map[string]Binding

	now           func() time.Time
	ttl           time.Duration
	sweepInterval time.Duration
	observers     []Observer
	logger        zerolog.Logger

	stopMu sync.Mutex
	cancel func()
	wg     sync.WaitGroup
}

type Option func(*Registry)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweepInterval = d }
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger.With().Str("component", "registry").Logger()
	}
}

func WithObserver(obs ...Observer) Option {
	return func(r *Registry) { r.observers = append(r.observers, obs...) }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		rooms:         make(map[string]*room),
		conns:         make(map[string]Binding),
		now:           time.Now,
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lockRoom returns the room locked, creating it when create is set.
// It returns nil when the room does not exist and create is false.
func (r *Registry) lockRoom(meetingID string, create bool) *room {
	for {
		r.mu.Lock()
		rm, ok := r.rooms[meetingID]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil
			}
			rm = &room{
				id:           meetingID,
				participants: make(map[string]Session),
				lastActivity: r.now(),
			}
			r.rooms[meetingID] = rm
			r.logger.Debug().Str("meetingID", meetingID).Msg("room created")
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if !rm.closed {
			return rm
		}
		// deleted while we waited, look it up again
		rm.mu.Unlock()
	}
}

// deleteRoom removes a locked room. The caller keeps holding rm.mu.
func (r *Registry) deleteRoom(rm *room) {
	rm.closed = true
	r.mu.Lock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	for _, s := range rm.participants {
		if b, ok := r.conns[s.ConnectionID]; ok && b.MeetingID == rm.id {
			delete(r.conns, s.ConnectionID)
		}
	}
	r.mu.Unlock()
}

// Join inserts or replaces the participant's session and returns the roster
// of the other members.
func (r *Registry) Join(meetingID string, s Session) JoinResult {
	rm := r.lockRoom(meetingID, true)
	defer rm.mu.Unlock()

	res := JoinResult{MeetingID: meetingID, Session: s}
	if prev, ok := rm.participants[s.ParticipantID]; ok {
		if prev.ConnectionID == s.ConnectionID {
			res.Repeated = true
		} else {
			res.Replaced = prev.ConnectionID
		}
	}
	rm.participants[s.ParticipantID] = s
	rm.lastActivity = r.now()

	r.mu.Lock()
	if res.Replaced != "" {
		delete(r.conns, res.Replaced)
	}
	r.conns[s.ConnectionID] = Binding{MeetingID: meetingID, ParticipantID: s.ParticipantID}
	r.mu.Unlock()

	res.Roster = make([]models.ParticipantInfo, 0, len(rm.participants)-1)
	res.Recipients = make([]string, 0, len(rm.participants)-1)
	for id, other := range rm.participants {
		if id == s.ParticipantID {
			continue
		}
		res.Roster = append(res.Roster, models.ParticipantInfo{UserID: id, Username: other.DisplayName})
		res.Recipients = append(res.Recipients, other.ConnectionID)
	}
	sort.Slice(res.Roster, func(i, j int) bool { return res.Roster[i].UserID < res.Roster[j].UserID })

	r.logger.Debug().
		Str("meetingID", meetingID).
		Str("participantID", s.ParticipantID).
		Str("connectionID", s.ConnectionID).
		Int("participants", len(rm.participants)).
		Msg("participant joined")

	for _, obs := range r.observers {
		obs.Joined(res)
	}
	return res
}

// Leave removes the participant if present. Leaving twice is a no-op.
func (r *Registry) Leave(meetingID, participantID string) LeaveResult {
	rm := r.lockRoom(meetingID, false)
	if rm == nil {
		return LeaveResult{MeetingID: meetingID, ParticipantID: participantID}
	}
	defer rm.mu.Unlock()
	return r.leaveLocked(rm, participantID)
}

// LeaveConnection removes whichever participant the connection currently
// serves. Connections that were replaced by a re-join resolve to nothing.
func (r *Registry) LeaveConnection(connectionID string) LeaveResult {
	b, ok := r.Binding(connectionID)
	if !ok {
		return LeaveResult{}
	}
	rm := r.lockRoom(b.MeetingID, false)
	if rm == nil {
		return LeaveResult{MeetingID: b.MeetingID, ParticipantID: b.ParticipantID}
	}
	defer rm.mu.Unlock()

	// the binding may have changed while we waited for the room
	if s, ok := rm.participants[b.ParticipantID]; !ok || s.ConnectionID != connectionID {
		return LeaveResult{MeetingID: b.MeetingID, ParticipantID: b.ParticipantID}
	}
	return r.leaveLocked(rm, b.ParticipantID)
}

func (r *Registry) leaveLocked(rm *room, participantID string) LeaveResult {
	res := LeaveResult{MeetingID: rm.id, ParticipantID: participantID}
	s, ok := rm.participants[participantID]
	if !ok {
		return res
	}
	delete(rm.participants, participantID)
	rm.lastActivity = r.now()
	res.WasPresent = true

	r.mu.Lock()
	if b, ok := r.conns[s.ConnectionID]; ok && b.MeetingID == rm.id && b.ParticipantID == participantID {
		delete(r.conns, s.ConnectionID)
	}
	r.mu.Unlock()

	res.Recipients = make([]string, 0, len(rm.participants))
	for _, other := range rm.participants {
		res.Recipients = append(res.Recipients, other.ConnectionID)
	}

	if len(rm.participants) == 0 {
		res.RoomNowEmpty = true
		r.deleteRoom(rm)
		r.logger.Debug().Str("meetingID", rm.id).Msg("room closed, no participants remaining")
	}

	r.logger.Debug().
		Str("meetingID", rm.id).
		Str("participantID", participantID).
		Int("remaining", len(rm.participants)).
		Msg("participant left")

	for _, obs := range r.observers {
		obs.Left(res)
	}
	return res
}

// ResolveConnection returns the connection id serving the participant.
// A missing room or participant is a normal outcome.
func (r *Registry) ResolveConnection(meetingID, participantID string) (string, bool) {
	rm := r.lockRoom(meetingID, false)
	if rm == nil {
		return "", false
	}
	defer rm.mu.Unlock()

	s, ok := rm.participants[participantID]
	if !ok {
		return "", false
	}
	return s.ConnectionID, true
}

// Touch bumps the room's activity timestamp. It never creates a room.
func (r *Registry) Touch(meetingID string) {
	rm := r.lockRoom(meetingID, false)
	if rm == nil {
		return
	}
	rm.lastActivity = r.now()
	for _, obs := range r.observers {
		obs.Touched(meetingID)
	}
	rm.mu.Unlock()
}

// Members returns the connection ids of everyone in the room except the
// given participant.
func (r *Registry) Members(meetingID, excludeParticipantID string) []string {
	rm := r.lockRoom(meetingID, false)
	if rm == nil {
		return nil
	}
	defer rm.mu.Unlock()

	out := make([]string, 0, len(rm.participants))
	for id, s := range rm.participants {
		if id != excludeParticipantID {
			out = append(out, s.ConnectionID)
		}
	}
	return out
}

// Participants returns the full roster sorted by user id
func (r *Registry) Participants(meetingID string) []models.ParticipantInfo {
	rm := r.lockRoom(meetingID, false)
	if rm == nil {
		return nil
	}
	defer rm.mu.Unlock()

	out := make([]models.ParticipantInfo, 0, len(rm.participants))
	for id, s := range rm.participants {
		out = append(out, models.ParticipantInfo{UserID: id, Username: s.DisplayName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Registry) Binding(connectionID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[connectionID]
	return b, ok
}

func (r *Registry) Has(meetingID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[meetingID]
	return ok
}

// Len returns the number of live rooms
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
