package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Oxyrus/pinphotos/internal/storage"
)

// Registry keeps one session per pin coordinate.
type Registry struct {
	logger *slog.Logger
	pins   storage.Pins
	photos storage.Photos
	source Source

	mu       sync.Mutex
	sessions map[storage.Coordinate]*Session
}

func NewRegistry(logger *slog.Logger, pins storage.Pins, photos storage.Photos, source Source) *Registry {
	return &Registry{
		logger:   logger,
		pins:     pins,
		photos:   photos,
		source:   source,
		sessions: make(map[storage.Coordinate]*Session),
	}
}

// Open returns the session focused on at, creating and initializing it on
// first use. Only coordinates with a saved pin get a session; others yield
// ErrNoPin. A failed initialization still yields the session, in its Empty
// state, alongside the error.
func (r *Registry) Open(ctx context.Context, at storage.Coordinate) (*Session, bool, error) {
	if sess, ok := r.Get(at); ok {
		return sess, false, nil
	}

	if _, err := r.pins.Find(ctx, at); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, ErrNoPin
		}
		return nil, false, fmt.Errorf("session: look up pin: %w", err)
	}

	r.mu.Lock()
	if sess, ok := r.sessions[at]; ok {
		r.mu.Unlock()
		return sess, false, nil
	}
	sess := New(r.logger, r.pins, r.photos, r.source, at)
	r.sessions[at] = sess
	r.mu.Unlock()

	if err := sess.Initialize(ctx); err != nil {
		return sess, true, err
	}
	return sess, true, nil
}

func (r *Registry) Get(at storage.Coordinate) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[at]
	return sess, ok
}

// Close forgets the session at the coordinate. In-flight downloads for it
// keep running but their results only reach the dropped session.
func (r *Registry) Close(at storage.Coordinate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, at)
}
