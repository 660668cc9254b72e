// Package session keeps the photo grid of one pin consistent with the saved
// photos in storage and with the page most recently fetched from the remote
// photo source.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Oxyrus/pinphotos/internal/storage"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// session's current state.
	ErrInvalidState = errors.New("session: invalid state")
	// ErrIndexOutOfRange rejects an operation naming a position outside the
	// working set. Nothing is changed when it is returned.
	ErrIndexOutOfRange = errors.New("session: index out of range")
	// ErrStale reports a completion that belongs to a superseded generation or
	// to a photo that is no longer in the working set. It was discarded.
	ErrStale = errors.New("session: stale completion")
	// ErrFetchFailed wraps any remote source failure.
	ErrFetchFailed = errors.New("session: remote fetch failed")
	// ErrNoPin is returned by Registry.Open for a coordinate without a pin.
	ErrNoPin = errors.New("session: no pin at coordinate")
)

const (
	labelNewCollection  = "New Collection"
	labelDeleteSelected = "Delete selected pictures"
)

// State is the lifecycle position of a session.
type State int

const (
	Uninitialized State = iota
	Loading
	Ready
	Refreshing
	Empty
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Refreshing:
		return "refreshing"
	case Empty:
		return "empty"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Descriptor is a photo reference produced by the remote source. Data is set
// only when the source already resolved the image bytes.
type Descriptor struct {
	URL  string
	Data []byte
}

// Image is a downloaded photo ready to be saved.
type Image struct {
	Data    []byte
	TakenAt *time.Time
}

// Source fetches one page of photos tagged near a coordinate.
type Source interface {
	FetchPage(ctx context.Context, at storage.Coordinate) ([]Descriptor, error)
}

// Ticket identifies one pending download. It is only honoured while its
// generation is current.
type Ticket struct {
	Generation uint64
	PhotoID    string
	URL        string
}

type entry struct {
	id string
	// position is the entry's place in the fetched page; saved records keep it
	// so a reload shows the grid in the same order.
	position  int
	url       string
	image     []byte
	takenAt   *time.Time
	resolved  bool
	persisted bool
}

// Session reconciles the working set of the focused pin with storage and the
// remote source. All state changes are serialized by mu; remote fetches run
// without holding it and are applied only if their generation is still current.
type Session struct {
	logger *slog.Logger
	pins   storage.Pins
	photos storage.Photos
	source Source
	at     storage.Coordinate
	newID  func() string

	mu            sync.Mutex
	pin           *storage.Pin
	state         State
	generation    uint64
	entries       []entry
	selected      map[string]struct{}
	failed        bool
	writeFailures int
}

func New(logger *slog.Logger, pins storage.Pins, photos storage.Photos, source Source, at storage.Coordinate) *Session {
	return &Session{
		logger:   logger.With("latitude", at.Latitude, "longitude", at.Longitude),
		pins:     pins,
		photos:   photos,
		source:   source,
		at:       at,
		newID:    uuid.NewString,
		selected: make(map[string]struct{}),
	}
}

// Coordinate returns the location the session is focused on.
func (s *Session) Coordinate() storage.Coordinate {
	return s.at
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize loads the saved photos of the pin, or fetches a fresh page when
// the pin has none. The remote source is never consulted for a populated pin.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Uninitialized {
		s.mu.Unlock()
		return ErrInvalidState
	}

	s.state = Loading
	s.generation++
	gen := s.generation
	s.resolvePinLocked(ctx)

	if s.pin != nil {
		count, err := s.photos.Count(ctx, s.pin.ID)
		if err != nil {
			s.logger.Error("failed to count saved photos", "pinID", s.pin.ID, "error", err)
			count = 0
		}

		if count > 0 {
			defer s.mu.Unlock()
			return s.loadSavedLocked(ctx)
		}
	}
	s.mu.Unlock()

	return s.fetch(ctx, gen)
}

// Refresh discards the working set and the pin's saved photos, then fetches a
// new page. A refresh issued while another is in flight supersedes it.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Ready, Empty, Refreshing:
	default:
		s.mu.Unlock()
		return ErrInvalidState
	}

	s.generation++
	gen := s.generation
	s.state = Refreshing
	s.entries = nil
	s.failed = false
	clear(s.selected)

	if s.pin == nil {
		s.resolvePinLocked(ctx)
	}
	if s.pin != nil {
		if err := s.photos.RemoveAll(ctx, s.pin.ID); err != nil {
			s.writeFailures++
			s.logger.Error("failed to remove saved photos", "pinID", s.pin.ID, "error", err)
		}
	}
	s.mu.Unlock()

	s.logger.Info("refreshing photos", "generation", gen)

	return s.fetch(ctx, gen)
}

// RecordDownloaded stores the downloaded image for the photo named by the
// ticket. Calls for an already resolved photo are no-ops.
func (s *Session) RecordDownloaded(ctx context.Context, t Ticket, img Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Generation != s.generation {
		s.logger.Debug("dropping download from old generation", "photoID", t.PhotoID, "generation", t.Generation, "current", s.generation)
		return ErrStale
	}

	i := s.indexOfLocked(t.PhotoID)
	if i < 0 {
		s.logger.Debug("dropping download for removed photo", "photoID", t.PhotoID)
		return ErrStale
	}

	e := &s.entries[i]
	if e.resolved {
		return nil
	}

	e.image = img.Data
	e.takenAt = img.TakenAt
	e.resolved = true
	s.persistLocked(ctx, e)

	return nil
}

// DeleteIndices removes the photos at the given working-set positions from the
// working set and from storage. Any out of range index rejects the whole call.
func (s *Session) DeleteIndices(ctx context.Context, indices []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Ready {
		return ErrInvalidState
	}

	ids := make(map[string]struct{}, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(s.entries) {
			return fmt.Errorf("%w: %d", ErrIndexOutOfRange, idx)
		}
		ids[s.entries[idx].id] = struct{}{}
	}

	s.deleteLocked(ctx, ids)
	return nil
}

// DeleteSelected removes every selected photo.
func (s *Session) DeleteSelected(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Ready {
		return ErrInvalidState
	}

	s.deleteLocked(ctx, s.selected)
	return nil
}

// PrimaryAction is the grid's single button: it deletes the selection when
// there is one and requests a new collection otherwise.
func (s *Session) PrimaryAction(ctx context.Context) error {
	s.mu.Lock()
	if len(s.selected) > 0 {
		defer s.mu.Unlock()
		if s.state != Ready {
			return ErrInvalidState
		}
		s.deleteLocked(ctx, s.selected)
		return nil
	}
	s.mu.Unlock()

	return s.Refresh(ctx)
}

// ToggleSelect flips the selection of the photo at index.
func (s *Session) ToggleSelect(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.entries) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	id := s.entries[index].id
	if _, ok := s.selected[id]; ok {
		delete(s.selected, id)
		return nil
	}
	s.selected[id] = struct{}{}
	return nil
}

func (s *Session) Deselect(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.entries) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	delete(s.selected, s.entries[index].id)
	return nil
}

// PendingDownloads lists the photos of the current generation that still
// await their image bytes.
func (s *Session) PendingDownloads() []Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tickets []Ticket
	for _, e := range s.entries {
		if e.resolved {
			continue
		}
		tickets = append(tickets, Ticket{
			Generation: s.generation,
			PhotoID:    e.id,
			URL:        e.url,
		})
	}
	return tickets
}

// Image returns the resolved bytes of a photo in the working set.
func (s *Session) Image(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOfLocked(id)
	if i < 0 || !s.entries[i].resolved {
		return nil, false
	}
	return s.entries[i].image, true
}

func (s *Session) fetch(ctx context.Context, gen uint64) error {
	descriptors, fetchErr := s.source.FetchPage(ctx, s.at)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.logger.Debug("dropping fetch from old generation", "generation", gen, "current", s.generation)
		return ErrStale
	}

	s.entries = nil
	if fetchErr != nil {
		s.state = Empty
		s.failed = true
		s.logger.Warn("failed to fetch photos", "generation", gen, "error", fetchErr)
		return fmt.Errorf("%w: %w", ErrFetchFailed, fetchErr)
	}

	entries := make([]entry, 0, len(descriptors))
	for i, d := range descriptors {
		entries = append(entries, entry{id: s.newID(), position: i, url: d.URL})
	}
	s.entries = entries

	for i, d := range descriptors {
		if d.Data != nil {
			s.entries[i].image = d.Data
			s.entries[i].resolved = true
			s.persistLocked(ctx, &s.entries[i])
		}
	}

	if len(s.entries) == 0 {
		s.state = Empty
	} else {
		s.state = Ready
	}

	s.logger.Info("fetched photos", "generation", gen, "count", len(s.entries))
	return nil
}

func (s *Session) loadSavedLocked(ctx context.Context) error {
	records, err := s.photos.ListByPin(ctx, s.pin.ID)
	if err != nil {
		s.state = Empty
		s.failed = true
		s.logger.Error("failed to load saved photos", "pinID", s.pin.ID, "error", err)
		return fmt.Errorf("session: load saved photos: %w", err)
	}

	s.entries = make([]entry, 0, len(records))
	for _, r := range records {
		s.entries = append(s.entries, entry{
			id:        r.ID,
			position:  r.Position,
			url:       r.SourceURL,
			image:     r.ImageData,
			takenAt:   r.TakenAt,
			resolved:  true,
			persisted: true,
		})
	}

	if len(s.entries) == 0 {
		s.state = Empty
	} else {
		s.state = Ready
	}
	return nil
}

func (s *Session) resolvePinLocked(ctx context.Context) {
	pin, err := s.pins.Find(ctx, s.at)
	switch {
	case err == nil:
		s.pin = &pin
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Debug("no pin saved at coordinate")
	default:
		s.logger.Warn("failed to look up pin", "error", err)
	}
}

// persistLocked writes a resolved entry. Failures are logged and counted; the
// in-memory entry stays resolved either way.
func (s *Session) persistLocked(ctx context.Context, e *entry) {
	if s.pin == nil {
		s.logger.Warn("photo not saved, pin is missing", "photoID", e.id)
		return
	}

	position := e.position
	_, err := s.photos.Add(ctx, storage.PhotoCreate{
		ID:        e.id,
		PinID:     s.pin.ID,
		Position:  &position,
		ImageData: e.image,
		SourceURL: e.url,
		TakenAt:   e.takenAt,
	})
	if err != nil {
		s.writeFailures++
		s.logger.Error("failed to save photo", "pinID", s.pin.ID, "photoID", e.id, "error", err)
		return
	}
	e.persisted = true
}

// deleteLocked drops the named entries in a single pass and removes their
// saved records in one store call. A store failure is logged and the working
// set is updated regardless.
func (s *Session) deleteLocked(ctx context.Context, ids map[string]struct{}) {
	if len(ids) == 0 {
		clear(s.selected)
		return
	}

	var saved []string
	before := len(s.entries)
	kept := s.entries[:0]
	for _, e := range s.entries {
		if _, ok := ids[e.id]; !ok {
			kept = append(kept, e)
			continue
		}
		if e.persisted {
			saved = append(saved, e.id)
		}
	}
	s.entries = kept

	if len(saved) > 0 && s.pin != nil {
		if err := s.photos.Remove(ctx, s.pin.ID, saved); err != nil {
			s.writeFailures++
			s.logger.Error("failed to remove photos", "pinID", s.pin.ID, "count", len(saved), "error", err)
		}
	}

	clear(s.selected)
	if len(s.entries) == 0 {
		s.state = Empty
	}

	s.logger.Info("deleted photos", "count", before-len(s.entries), "remaining", len(s.entries))
}

func (s *Session) indexOfLocked(id string) int {
	for i, e := range s.entries {
		if e.id == id {
			return i
		}
	}
	return -1
}
