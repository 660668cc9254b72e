package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates that the requested entity does not exist in the
// underlying storage.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict indicates that a pin already exists at the given coordinate.
var ErrConflict = errors.New("storage: conflict")

// Store exposes the persistence primitives required by the application. It is
// expected to be safe for concurrent use.
type Store interface {
	Pins() Pins
	Photos() Photos
	Ping(ctx context.Context) error
	Close() error
}

// Coordinate is a geographic position. Lookups compare both components with
// exact floating point equality.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Pin is a saved location that owns an ordered collection of photos.
type Pin struct {
	ID         int64
	Coordinate Coordinate
	CreatedAt  time.Time
}

// Pins defines the operations supported for managing pins.
type Pins interface {
	Create(ctx context.Context, at Coordinate) (Pin, error)
	Find(ctx context.Context, at Coordinate) (Pin, error)
	GetByID(ctx context.Context, id int64) (Pin, error)
	List(ctx context.Context) ([]Pin, error)
	Delete(ctx context.Context, id int64) error
}

// SavedPhoto is a downloaded image persisted for a pin.
type SavedPhoto struct {
	ID        string
	PinID     int64
	Position  int
	ImageData []byte
	SourceURL string
	TakenAt   *time.Time
	CreatedAt time.Time
}

// PhotoCreate contains the data required to add a photo to a pin. An empty
// ID lets the store generate one; a nil Position appends after the pin's last
// photo.
type PhotoCreate struct {
	ID        string
	PinID     int64
	Position  *int
	ImageData []byte
	SourceURL string
	TakenAt   *time.Time
}

// Photos defines the operations supported for a pin's saved photos. Remove and
// RemoveAll are each applied as a single transaction.
type Photos interface {
	Count(ctx context.Context, pinID int64) (int, error)
	ListByPin(ctx context.Context, pinID int64) ([]SavedPhoto, error)
	Add(ctx context.Context, input PhotoCreate) (SavedPhoto, error)
	Remove(ctx context.Context, pinID int64, ids []string) error
	RemoveAll(ctx context.Context, pinID int64) error
}
