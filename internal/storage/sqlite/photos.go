package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Oxyrus/pinphotos/internal/storage"
)

type photoRepository struct {
	db *sql.DB
}

func (r *photoRepository) Count(ctx context.Context, pinID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos WHERE pin_id = ?`, pinID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count photos: %w", err)
	}
	return count, nil
}

func (r *photoRepository) ListByPin(ctx context.Context, pinID int64) ([]storage.SavedPhoto, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, pin_id, position, image_data, source_url, taken_at, created_at
		FROM photos
		WHERE pin_id = ?
		ORDER BY position, created_at`,
		pinID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list photos: %w", err)
	}
	defer rows.Close()

	var result []storage.SavedPhoto
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, photo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list photos: %w", err)
	}

	return result, nil
}

// Add stores the photo at input.Position, or after the pin's current last
// position when none is given.
func (r *photoRepository) Add(ctx context.Context, input storage.PhotoCreate) (storage.SavedPhoto, error) {
	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}

	var takenAt sql.NullTime
	if input.TakenAt != nil {
		takenAt = sql.NullTime{Time: input.TakenAt.UTC(), Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.SavedPhoto{}, fmt.Errorf("sqlite: add photo: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var position int
	if input.Position != nil {
		position = *input.Position
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position) + 1, 0)
			FROM photos
			WHERE pin_id = ?`,
			input.PinID,
		).Scan(&position)
		if err != nil {
			return storage.SavedPhoto{}, fmt.Errorf("sqlite: add photo: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO photos (id, pin_id, position, image_data, source_url, taken_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id,
		input.PinID,
		position,
		input.ImageData,
		input.SourceURL,
		takenAt,
		time.Now().UTC(),
	)
	if err != nil {
		switch {
		case isForeignKeyViolation(err):
			return storage.SavedPhoto{}, storage.ErrNotFound
		case isUniqueViolation(err):
			return storage.SavedPhoto{}, storage.ErrConflict
		}
		return storage.SavedPhoto{}, fmt.Errorf("sqlite: add photo: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.SavedPhoto{}, fmt.Errorf("sqlite: add photo: %w", err)
	}

	return r.getByID(ctx, id)
}

// Remove deletes every listed photo of the pin or none of them. Unknown ids
// abort the transaction with ErrNotFound.
func (r *photoRepository) Remove(ctx context.Context, pinID int64, ids []string) error {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(unique)), ", ")
	args := make([]any, 0, len(unique)+1)
	args = append(args, pinID)
	for _, id := range unique {
		args = append(args, id)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: remove photos: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf("DELETE FROM photos WHERE pin_id = ? AND id IN (%s)", placeholders)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: remove photos: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: remove photos: %w", err)
	}

	if rowsAffected != int64(len(unique)) {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: remove photos: %w", err)
	}

	return nil
}

func (r *photoRepository) RemoveAll(ctx context.Context, pinID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM photos WHERE pin_id = ?`, pinID); err != nil {
		return fmt.Errorf("sqlite: remove all photos: %w", err)
	}
	return nil
}

func (r *photoRepository) getByID(ctx context.Context, id string) (storage.SavedPhoto, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, pin_id, position, image_data, source_url, taken_at, created_at
		FROM photos
		WHERE id = ?`,
		id,
	)
	return scanPhoto(row)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

type photoScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(s photoScanner) (storage.SavedPhoto, error) {
	var (
		photo        storage.SavedPhoto
		takenAtRaw   sql.NullTime
		createdAtRaw time.Time
	)

	err := s.Scan(
		&photo.ID,
		&photo.PinID,
		&photo.Position,
		&photo.ImageData,
		&photo.SourceURL,
		&takenAtRaw,
		&createdAtRaw,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.SavedPhoto{}, storage.ErrNotFound
		}
		return storage.SavedPhoto{}, fmt.Errorf("sqlite: scan photo: %w", err)
	}

	if takenAtRaw.Valid {
		t := takenAtRaw.Time.UTC()
		photo.TakenAt = &t
	}

	photo.CreatedAt = createdAtRaw.UTC()

	return photo, nil
}
