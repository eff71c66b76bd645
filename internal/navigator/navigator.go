package navigator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	prefaberrors "github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"

	"github.com/roadwatch/defectmap/server/internal/lib/advisory"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
	"github.com/roadwatch/defectmap/server/internal/metrics"
)

// ErrSessionNotFound is returned for unknown or expired session IDs
var ErrSessionNotFound = errors.New("navigator session not found")

// Planner routes between two points and produces the corridor advisory
type Planner interface {
	Plan(ctx context.Context, start, end geo.Point) (*advisory.Report, error)
}

// Options configures a Navigator
type Options struct {
	// SessionTTL is how long an untouched session is kept
	SessionTTL time.Duration
	// LookupTimeout bounds one route plus defect lookup
	LookupTimeout time.Duration
	// Classify maps a lookup error to the kind reported to clients
	Classify func(error) string
}

// Navigator holds the live sessions and runs their lookups
type Navigator struct {
	planner Planner
	opts    Options
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	inflight sync.WaitGroup
}

// New creates a Navigator
func New(planner Planner, opts Options) *Navigator {
	if opts.Classify == nil {
		opts.Classify = func(error) string { return "query_failed" }
	}
	return &Navigator{
		planner:  planner,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session awaiting its start point
func (n *Navigator) Create(ctx context.Context) State {
	s := newSession(uuid.NewString(), n.now)

	n.mu.Lock()
	n.sessions[s.ID()] = s
	count := len(n.sessions)
	n.mu.Unlock()

	metrics.SetActiveSessions(count)
	logging.Infow(ctx, "Navigator: session created", "session_id", s.ID())
	return s.State()
}

// Get returns the session with the given ID
func (n *Navigator) Get(id string) (*Session, error) {
	n.mu.RLock()
	s, ok := n.sessions[id]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Click feeds a map click to the session, starting a lookup when the click
// completes a route
func (n *Navigator) Click(ctx context.Context, id string, p geo.Point) (State, error) {
	if !geo.IsValidCoordinate(p) {
		return State{}, fmt.Errorf("invalid click position %v", p)
	}
	s, err := n.Get(id)
	if err != nil {
		return State{}, err
	}

	if req := s.Click(p); req != nil {
		n.start(ctx, s, *req)
	}
	return s.State(), nil
}

// Refresh re-runs the lookup for the session's current route
func (n *Navigator) Refresh(ctx context.Context, id string) (State, error) {
	s, err := n.Get(id)
	if err != nil {
		return State{}, err
	}

	req, err := s.Refresh()
	if err != nil {
		return State{}, err
	}
	n.start(ctx, s, *req)
	return s.State(), nil
}

// Delete drops a session
func (n *Navigator) Delete(id string) error {
	n.mu.Lock()
	_, ok := n.sessions[id]
	delete(n.sessions, id)
	count := len(n.sessions)
	n.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	metrics.SetActiveSessions(count)
	return nil
}

// Len returns the number of live sessions
func (n *Navigator) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.sessions)
}

// start runs the lookup in the background. The lookup outlives the request
// that triggered it but keeps its logging fields.
func (n *Navigator) start(ctx context.Context, s *Session, req Request) {
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		n.run(logging.EnsureLogger(context.WithoutCancel(ctx)), s, req)
	}()
}

func (n *Navigator) run(ctx context.Context, s *Session, req Request) {
	defer func() {
		if r := recover(); r != nil {
			err, _ := prefaberrors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Navigator: recovered from panic in lookup",
				"session_id", s.ID(), "error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
			s.Apply(req.Generation, Outcome{Err: fmt.Errorf("lookup panicked: %v", r), Kind: "internal"})
		}
	}()

	if n.opts.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.opts.LookupTimeout)
		defer cancel()
	}

	report, err := n.planner.Plan(ctx, req.Start, req.End)
	outcome := Outcome{Report: report, Err: err}
	if err != nil {
		outcome.Kind = n.opts.Classify(err)
		logging.Warnw(ctx, "Navigator: lookup failed",
			"session_id", s.ID(), "generation", req.Generation, "kind", outcome.Kind, "error", err)
	}

	if !s.Apply(req.Generation, outcome) {
		metrics.RecordStaleResponse()
		logging.Infow(ctx, "Navigator: discarded superseded lookup",
			"session_id", s.ID(), "generation", req.Generation)
	}
}

// Wait blocks until every lookup started so far has finished
func (n *Navigator) Wait() {
	n.inflight.Wait()
}

// Sweep drops sessions idle for longer than the session TTL
func (n *Navigator) Sweep() int {
	if n.opts.SessionTTL <= 0 {
		return 0
	}
	cutoff := n.now().Add(-n.opts.SessionTTL)

	n.mu.Lock()
	removed := 0
	for id, s := range n.sessions {
		if s.idleSince().Before(cutoff) {
			delete(n.sessions, id)
			removed++
		}
	}
	count := len(n.sessions)
	n.mu.Unlock()

	metrics.SetActiveSessions(count)
	return removed
}
