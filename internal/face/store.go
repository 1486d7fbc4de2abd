package face

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"faceattend/internal/common"
)

// Enrollment is a stored embedding record.
type Enrollment struct {
	UserID           string
	Embedding        Embedding
	EnrolledImageURL string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Store persists face embeddings in Postgres, one row per user. Embeddings
// are stored as JSONB so the schema stays portable across vector sizes.
type Store struct {
	db *sql.DB
}

// NewStore creates an embedding store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert replaces the user's embedding, never duplicating rows.
func (s *Store) Upsert(ctx context.Context, userID string, emb Embedding, imageURL string) error {
	encoded, err := json.Marshal(emb)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO face_embeddings (user_id, encoding, enrolled_image_url)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (user_id) DO UPDATE SET
			encoding = EXCLUDED.encoding,
			enrolled_image_url = COALESCE(EXCLUDED.enrolled_image_url, face_embeddings.enrolled_image_url),
			updated_at = NOW()
	`, userID, encoded, imageURL)
	if err != nil {
		return fmt.Errorf("%w: upsert embedding: %v", common.ErrStorage, err)
	}
	return nil
}

// Get returns the stored embedding for a user, or common.ErrNotEnrolled.
func (s *Store) Get(ctx context.Context, userID string) (Enrollment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, encoding, COALESCE(enrolled_image_url, ''), created_at, updated_at
		FROM face_embeddings WHERE user_id = $1
	`, userID)
	var (
		e       Enrollment
		encoded []byte
	)
	if err := row.Scan(&e.UserID, &encoded, &e.EnrolledImageURL, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Enrollment{}, common.ErrNotEnrolled
		}
		return Enrollment{}, fmt.Errorf("%w: get embedding: %v", common.ErrStorage, err)
	}
	if err := json.Unmarshal(encoded, &e.Embedding); err != nil {
		return Enrollment{}, fmt.Errorf("corrupt embedding for user %s: %w", userID, err)
	}
	return e, nil
}

// Delete removes the user's biometric record. Deleting a user who was never
// enrolled is not an error.
func (s *Store) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM face_embeddings WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("%w: delete embedding: %v", common.ErrStorage, err)
	}
	return nil
}
