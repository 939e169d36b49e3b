package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/registry"
	"github.com/rs/zerolog"
)

const (
	defaultWriteTimeout    = 2 * time.Second
	defaultRefreshInterval = time.Minute
)

type opKind int

const (
	opPut opKind = iota
	opRemove
	opDrop
	opRefresh
)

type op struct {
	kind        opKind
	meetingID   string
	participant models.ParticipantInfo
}

type Config struct {
	Store     Store
	Workers   int
	QueueSize int
	Logger    *zerolog.Logger

	// RefreshInterval bounds how often room traffic extends the copy's
	// lifetime. It must stay well below the store ttl.
	RefreshInterval time.Duration
	Now             func() time.Time
}

// Mirror copies registry membership changes into a Store. It implements
// registry.Observer and never blocks the caller: a full queue drops the
// change and counts it. Changes for one meeting always land on the same
// worker so they apply in order.
type Mirror struct {
	store   Store
	queues  []chan op
	dropped atomic.Int64
	logger  zerolog.Logger

	refreshEvery time.Duration
	now          func() time.Time
	refreshMu    sync.Mutex
	refreshed    map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ registry.Observer = (*Mirror)(nil)

func NewMirror(cfg Config) *Mirror {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	m := &Mirror{
		store:        cfg.Store,
		queues:       make([]chan op, workers),
		logger:       zerolog.Nop(),
		refreshEvery: cfg.RefreshInterval,
		now:          cfg.Now,
		refreshed:    make(map[string]time.Time),
	}
	if m.refreshEvery <= 0 {
		m.refreshEvery = defaultRefreshInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	if cfg.Logger != nil {
		m.logger = cfg.Logger.With().Str("component", "presence-mirror").Logger()
	}
	for i := range m.queues {
		m.queues[i] = make(chan op, size)
	}
	return m
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (m *Mirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for i, q := range m.queues {
		m.wg.Add(1)
		go m.worker(ctx, i, q)
	}
}

func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Dropped returns how many changes were discarded because a queue was full
func (m *Mirror) Dropped() int64 {
	return m.dropped.Load()
}

// Store is where the mirror writes, for readers of the copy
func (m *Mirror) Store() Store {
	return m.store
}

func (m *Mirror) Joined(res registry.JoinResult) {
	// a put sets the expiry itself
	m.markRefreshed(res.MeetingID)
	m.enqueue(op{
		kind:      opPut,
		meetingID: res.MeetingID,
		participant: models.ParticipantInfo{
			UserID:   res.Session.ParticipantID,
			Username: res.Session.DisplayName,
		},
	})
}

func (m *Mirror) Left(res registry.LeaveResult) {
	if !res.WasPresent {
		return
	}
	if res.RoomNowEmpty {
		m.forget(res.MeetingID)
		m.enqueue(op{kind: opDrop, meetingID: res.MeetingID})
		return
	}
	m.enqueue(op{
		kind:        opRemove,
		meetingID:   res.MeetingID,
		participant: models.ParticipantInfo{UserID: res.ParticipantID},
	})
}

func (m *Mirror) Evicted(meetingID string) {
	m.forget(meetingID)
	m.enqueue(op{kind: opDrop, meetingID: meetingID})
}

// Touched extends the copy's lifetime, at most once per refresh interval
// for each meeting
func (m *Mirror) Touched(meetingID string) {
	now := m.now()
	m.refreshMu.Lock()
	last, ok := m.refreshed[meetingID]
	due := !ok || now.Sub(last) >= m.refreshEvery
	if due {
		m.refreshed[meetingID] = now
	}
	m.refreshMu.Unlock()

	if due {
		m.enqueue(op{kind: opRefresh, meetingID: meetingID})
	}
}

func (m *Mirror) markRefreshed(meetingID string) {
	m.refreshMu.Lock()
	m.refreshed[meetingID] = m.now()
	m.refreshMu.Unlock()
}

func (m *Mirror) forget(meetingID string) {
	m.refreshMu.Lock()
	delete(m.refreshed, meetingID)
	m.refreshMu.Unlock()
}

func (m *Mirror) enqueue(o op) {
	q := m.queues[xxhash.Sum64String(o.meetingID)%uint64(len(m.queues))]
	select {
	case q <- o:
	default:
		n := m.dropped.Add(1)
		m.logger.Warn().
			Str("meetingID", o.meetingID).
			Int64("dropped", n).
			Msg("presence queue full, change dropped")
	}
}

func (m *Mirror) worker(ctx context.Context, id int, q <-chan op) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-q:
			m.apply(ctx, id, o)
		}
	}
}

func (m *Mirror) apply(ctx context.Context, worker int, o op) {
	ctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var err error
	switch o.kind {
	case opPut:
		err = m.store.Put(ctx, o.meetingID, o.participant)
	case opRemove:
		err = m.store.Remove(ctx, o.meetingID, o.participant.UserID)
	case opDrop:
		err = m.store.Drop(ctx, o.meetingID)
	case opRefresh:
		err = m.store.Refresh(ctx, o.meetingID)
	}
	if err != nil {
		m.logger.Error().Err(err).
			Int("worker", worker).
			Str("meetingID", o.meetingID).
			Msg("presence write failed")
	}
}
