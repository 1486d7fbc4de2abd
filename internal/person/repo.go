// Package person persists user records. External ids come from the identity
// provider; internal ids are UUIDs owned by this service.
package person

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"faceattend/internal/common"
	"github.com/google/uuid"
)

// Roles a person can hold.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

// Person is a registered user.
type Person struct {
	ID              string     `json:"id"`
	ExternalID      string     `json:"external_id"`
	Name            string     `json:"name"`
	Email           string     `json:"email,omitempty"`
	Role            string     `json:"role"`
	ProfilePhotoURL *string    `json:"profile_photo_url,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// Repository persists persons in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetByExternalID looks a person up by the identity-provider id.
func (r *Repository) GetByExternalID(ctx context.Context, externalID string) (Person, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, COALESCE(email, ''), role, profile_photo_url, created_at, updated_at
		FROM users WHERE external_id = $1
	`, externalID)
	var p Person
	if err := row.Scan(&p.ID, &p.ExternalID, &p.Name, &p.Email, &p.Role, &p.ProfilePhotoURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Person{}, fmt.Errorf("%w: user %s", common.ErrNotFound, externalID)
		}
		return Person{}, fmt.Errorf("%w: get user: %v", common.ErrStorage, err)
	}
	return p, nil
}

// Upsert creates or updates a person keyed by external id.
func (r *Repository) Upsert(ctx context.Context, externalID, name, email, role string) (Person, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, external_id, name, email, role)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = COALESCE(EXCLUDED.email, users.email),
			updated_at = NOW()
		RETURNING id, external_id, name, COALESCE(email, ''), role, profile_photo_url, created_at, updated_at
	`, uuid.NewString(), externalID, name, email, role)
	var p Person
	if err := row.Scan(&p.ID, &p.ExternalID, &p.Name, &p.Email, &p.Role, &p.ProfilePhotoURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Person{}, fmt.Errorf("%w: upsert user: %v", common.ErrStorage, err)
	}
	return p, nil
}

// SetProfilePhoto updates the profile photo URL; pass an empty URL to clear it.
func (r *Repository) SetProfilePhoto(ctx context.Context, internalID, url string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET profile_photo_url = NULLIF($2, ''), updated_at = NOW() WHERE id = $1
	`, internalID, url)
	if err != nil {
		return fmt.Errorf("%w: set profile photo: %v", common.ErrStorage, err)
	}
	return nil
}
