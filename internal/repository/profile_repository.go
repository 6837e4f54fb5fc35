package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"campus-utilities/internal/models"
	"campus-utilities/pkg/database"
	"campus-utilities/pkg/logging"
)

// ProfileRepository provides data access for user profiles and contact messages
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	EnsureProfile(ctx context.Context, profile *models.UserProfile) (bool, error)
	ListProfiles(ctx context.Context, limit, offset int) ([]*models.UserProfile, error)

	CreateContactMessage(ctx context.Context, msg *models.ContactMessage) error
	ListContactMessages(ctx context.Context, limit, offset int) ([]*models.ContactMessage, error)
}

type profileRepository struct {
	db     *database.DB
	logger *logging.StructuredLogger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *database.DB, logger *logging.StructuredLogger) ProfileRepository {
	return &profileRepository{db: db, logger: logger}
}

// GetProfile retrieves a profile by user id
func (r *profileRepository) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	query := `
		SELECT user_id, role, display_name, company, created_at
		FROM profiles
		WHERE user_id = ?
	`

	var p models.UserProfile
	err := r.db.GetContext(ctx, "get_profile", &p, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Resource: "profile", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &p, nil
}

// EnsureProfile inserts the profile unless one already exists for the user.
// It reports whether a row was created.
func (r *profileRepository) EnsureProfile(ctx context.Context, profile *models.UserProfile) (bool, error) {
	query := `
		INSERT INTO profiles (user_id, role, display_name, company, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, "ensure_profile", query,
		profile.UserID,
		string(profile.Role),
		profile.DisplayName,
		profile.Company,
		profile.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to ensure profile: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected > 0 {
		r.logger.Info(ctx, "[REPO_PROFILE_CREATED] Default profile synthesised", logging.Fields{
			"user_id": profile.UserID,
			"role":    string(profile.Role),
		})
	}

	return affected > 0, nil
}

// ListProfiles lists profiles ordered by user id
func (r *profileRepository) ListProfiles(ctx context.Context, limit, offset int) ([]*models.UserProfile, error) {
	query := `
		SELECT user_id, role, display_name, company, created_at
		FROM profiles
		ORDER BY user_id
		LIMIT ? OFFSET ?
	`

	var profiles []*models.UserProfile
	if err := r.db.SelectContext(ctx, "list_profiles", &profiles, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	return profiles, nil
}

// CreateContactMessage stores an inbound contact message
func (r *profileRepository) CreateContactMessage(ctx context.Context, msg *models.ContactMessage) error {
	query := `
		INSERT INTO contact_messages (id, name, email, body, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, "insert_contact_message", query,
		msg.ID,
		msg.Name,
		msg.Email,
		msg.Body,
		msg.UserID,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contact message: %w", err)
	}

	return nil
}

// ListContactMessages lists contact messages, newest first
func (r *profileRepository) ListContactMessages(ctx context.Context, limit, offset int) ([]*models.ContactMessage, error) {
	query := `
		SELECT id, name, email, body, user_id, created_at
		FROM contact_messages
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`

	var messages []*models.ContactMessage
	if err := r.db.SelectContext(ctx, "list_contact_messages", &messages, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list contact messages: %w", err)
	}

	return messages, nil
}
