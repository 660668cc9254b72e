package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Oxyrus/pinphotos/internal/storage"
)

type pinRepository struct {
	db *sql.DB
}

func (r *pinRepository) Create(ctx context.Context, at storage.Coordinate) (storage.Pin, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO pins (latitude, longitude, created_at)
		VALUES (?, ?, ?)`,
		at.Latitude,
		at.Longitude,
		time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.Pin{}, storage.ErrConflict
		}
		return storage.Pin{}, fmt.Errorf("sqlite: create pin: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return storage.Pin{}, fmt.Errorf("sqlite: create pin: %w", err)
	}

	return r.GetByID(ctx, id)
}

// Find matches the coordinate bit for bit; nearby positions are different pins.
func (r *pinRepository) Find(ctx context.Context, at storage.Coordinate) (storage.Pin, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, latitude, longitude, created_at
		FROM pins
		WHERE latitude = ? AND longitude = ?`,
		at.Latitude,
		at.Longitude,
	)
	return scanPin(row)
}

func (r *pinRepository) GetByID(ctx context.Context, id int64) (storage.Pin, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, latitude, longitude, created_at
		FROM pins
		WHERE id = ?`,
		id,
	)
	return scanPin(row)
}

func (r *pinRepository) List(ctx context.Context) ([]storage.Pin, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, latitude, longitude, created_at
		FROM pins
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pins: %w", err)
	}
	defer rows.Close()

	var result []storage.Pin
	for rows.Next() {
		pin, err := scanPin(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pin)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list pins: %w", err)
	}

	return result, nil
}

func (r *pinRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pins WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete pin: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete pin: %w", err)
	}

	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

type pinScanner interface {
	Scan(dest ...any) error
}

func scanPin(s pinScanner) (storage.Pin, error) {
	var (
		pin          storage.Pin
		createdAtRaw time.Time
	)

	err := s.Scan(
		&pin.ID,
		&pin.Coordinate.Latitude,
		&pin.Coordinate.Longitude,
		&createdAtRaw,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.Pin{}, storage.ErrNotFound
		}
		return storage.Pin{}, fmt.Errorf("sqlite: scan pin: %w", err)
	}

	pin.CreatedAt = createdAtRaw.UTC()

	return pin, nil
}
