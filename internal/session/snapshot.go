package session

import "time"

// PhotoView is one cell of the grid.
type PhotoView struct {
	Index    int
	ID       string
	URL      string
	HasImage bool
	Selected bool
	TakenAt  *time.Time
}

// Snapshot is a read-only copy of what the grid should display.
type Snapshot struct {
	Generation uint64
	State      State
	Photos     []PhotoView
	// CanRequest is false while a fetch is in flight.
	CanRequest bool
	// Empty drives the "no images" indicator.
	Empty bool
	// Failed is set when the last fetch or load did not succeed.
	Failed        bool
	ActionLabel   string
	WriteFailures int
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]PhotoView, 0, len(s.entries))
	for i, e := range s.entries {
		_, selected := s.selected[e.id]
		views = append(views, PhotoView{
			Index:    i,
			ID:       e.id,
			URL:      e.url,
			HasImage: e.resolved,
			Selected: selected,
			TakenAt:  e.takenAt,
		})
	}

	label := labelNewCollection
	if len(s.selected) > 0 {
		label = labelDeleteSelected
	}

	return Snapshot{
		Generation:    s.generation,
		State:         s.state,
		Photos:        views,
		CanRequest:    s.state == Ready || s.state == Empty,
		Empty:         s.state == Empty,
		Failed:        s.failed,
		ActionLabel:   label,
		WriteFailures: s.writeFailures,
	}
}
