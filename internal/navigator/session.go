// Package navigator implements the two-click route picker: the first click
// sets the start, the second sets the end and looks the corridor up, a third
// starts over. Each lookup is tagged with a generation and only the latest
// generation's outcome is ever applied.
package navigator

import (
	"errors"
	"sync"
	"time"

	"github.com/roadwatch/defectmap/server/internal/lib/advisory"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
)

// Phase is what the session is waiting for
type Phase string

const (
	AwaitingStart Phase = "awaiting_start"
	AwaitingEnd   Phase = "awaiting_end"
	Loading       Phase = "loading"
	Ready         Phase = "ready"
	Failed        Phase = "failed"
)

// ErrNoRoute is returned when a refresh is requested before both ends are set
var ErrNoRoute = errors.New("start and end must both be set")

// Request is a lookup the caller must run and report back through Apply
type Request struct {
	Generation uint64
	Start      geo.Point
	End        geo.Point
}

// Outcome is the result of running a Request
type Outcome struct {
	Report *advisory.Report
	Err    error
	Kind   string
}

// State is a consistent copy of a session
type State struct {
	ID         string           `json:"id"`
	Phase      Phase            `json:"phase"`
	Start      *geo.Point       `json:"start,omitempty"`
	End        *geo.Point       `json:"end,omitempty"`
	Generation uint64           `json:"generation"`
	Report     *advisory.Report `json:"report,omitempty"`
	Error      string           `json:"error,omitempty"`
	ErrorKind  string           `json:"error_kind,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// snapshot is replaced as a whole, never edited field by field
type snapshot struct {
	report  *advisory.Report
	err     error
	errKind string
}

// Session is one navigator. All methods are safe for concurrent use.
type Session struct {
	id string

	mu         sync.Mutex
	start      *geo.Point
	end        *geo.Point
	generation uint64
	pending    bool
	settled    chan struct{}
	current    snapshot
	updatedAt  time.Time
	now        func() time.Time
}

func newSession(id string, now func() time.Time) *Session {
	settled := make(chan struct{})
	close(settled)
	return &Session{
		id:        id,
		settled:   settled,
		updatedAt: now(),
		now:       now,
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Click advances the state machine. It returns a Request when a lookup must
// be issued.
func (s *Session) Click(p geo.Point) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updatedAt = s.now()

	switch {
	case s.start == nil:
		s.start = &p
		return nil
	case s.end == nil:
		s.end = &p
		return s.issueLocked()
	default:
		// Start over. Bumping the generation orphans any lookup in flight.
		s.start = &p
		s.end = nil
		s.current = snapshot{}
		s.generation++
		s.settleLocked()
		return nil
	}
}

// Refresh re-issues the lookup for the current start and end. The previous
// report stays visible until the new outcome arrives.
func (s *Session) Refresh() (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.start == nil || s.end == nil {
		return nil, ErrNoRoute
	}
	s.updatedAt = s.now()
	return s.issueLocked(), nil
}

func (s *Session) issueLocked() *Request {
	s.generation++
	s.settleLocked()
	s.pending = true
	s.settled = make(chan struct{})
	return &Request{
		Generation: s.generation,
		Start:      *s.start,
		End:        *s.end,
	}
}

func (s *Session) settleLocked() {
	s.pending = false
	select {
	case <-s.settled:
	default:
		close(s.settled)
	}
}

// Apply records the outcome of a lookup. It returns false and leaves the
// session untouched when gen is no longer the latest generation. On failure
// the last good report is kept alongside the error.
func (s *Session) Apply(gen uint64, outcome Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || !s.pending {
		return false
	}

	if outcome.Err != nil {
		s.current = snapshot{
			report:  s.current.report,
			err:     outcome.Err,
			errKind: outcome.Kind,
		}
	} else {
		s.current = snapshot{report: outcome.Report}
	}
	s.updatedAt = s.now()
	s.settleLocked()
	return true
}

// Settled is closed once no lookup is pending
func (s *Session) Settled() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}

// State returns a consistent copy of the session
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := State{
		ID:         s.id,
		Phase:      s.phaseLocked(),
		Generation: s.generation,
		Report:     s.current.report,
		ErrorKind:  s.current.errKind,
		UpdatedAt:  s.updatedAt,
	}
	if s.start != nil {
		start := *s.start
		state.Start = &start
	}
	if s.end != nil {
		end := *s.end
		state.End = &end
	}
	if s.current.err != nil {
		state.Error = s.current.err.Error()
	}
	return state
}

func (s *Session) phaseLocked() Phase {
	switch {
	case s.start == nil:
		return AwaitingStart
	case s.end == nil:
		return AwaitingEnd
	case s.pending:
		return Loading
	case s.current.err != nil:
		return Failed
	default:
		return Ready
	}
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}
