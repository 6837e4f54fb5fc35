package services

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"campus-utilities/internal/models"
	"campus-utilities/internal/repository"
	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

const maxContactBody = 5000

// ProfileService reads user profiles and stores contact messages
type ProfileService struct {
	repo    repository.ProfileRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	now     func() time.Time
}

// Session is what the client needs to render navigation for a user
type Session struct {
	Profile  *models.UserProfile `json:"profile"`
	Sections []models.Section    `json:"sections"`
	Created  bool                `json:"created,omitempty"`
}

// NewProfileService creates a new profile service
func NewProfileService(repo repository.ProfileRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ProfileService {
	return &ProfileService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
		now:     time.Now,
	}
}

// Login synthesises a default "user" profile when none exists and returns
// the session view. An existing profile is never modified.
func (s *ProfileService) Login(ctx context.Context, userID, displayName string) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &models.ValidationError{Field: "user_id", Message: "session has no user id"}
	}

	created, err := s.repo.EnsureProfile(ctx, &models.UserProfile{
		UserID:      userID,
		Role:        models.RoleUser,
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   s.now().UTC().UnixMilli(),
	})
	if err != nil {
		return nil, &models.PersistenceError{Op: "ensure profile", Err: err}
	}

	session, err := s.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	session.Created = created
	return session, nil
}

// Session returns the profile and navigation sections of a user
func (s *ProfileService) Session(ctx context.Context, userID string) (*Session, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if models.IsNotFound(err) {
		return nil, err
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get profile", Err: err}
	}

	role := profile.Role
	if !role.Valid() {
		s.logger.Warn(ctx, "[PROFILE_ROLE] Unknown role, using user navigation", logging.Fields{
			"user_id": userID,
			"role":    string(role),
		})
		role = models.RoleUser
	}

	return &Session{Profile: profile, Sections: role.Sections()}, nil
}

// ListProfiles lists stored profiles
func (s *ProfileService) ListProfiles(ctx context.Context, limit, offset int) ([]*models.UserProfile, error) {
	profiles, err := s.repo.ListProfiles(ctx, limit, offset)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list profiles", Err: err}
	}
	if profiles == nil {
		profiles = []*models.UserProfile{}
	}
	return profiles, nil
}

// SubmitContact validates and stores an inbound contact message
func (s *ProfileService) SubmitContact(ctx context.Context, name, email, body, userID string) (*models.ContactMessage, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	body = strings.TrimSpace(body)

	if name == "" {
		return nil, &models.ValidationError{Field: "name", Message: "name is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &models.ValidationError{Field: "email", Value: email, Message: "email address is not valid"}
	}
	if body == "" {
		return nil, &models.ValidationError{Field: "body", Message: "message is required"}
	}
	if utf8.RuneCountInString(body) > maxContactBody {
		return nil, &models.ValidationError{Field: "body", Message: "message is too long"}
	}

	msg := &models.ContactMessage{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Body:      body,
		UserID:    userID,
		CreatedAt: s.now().UTC().UnixMilli(),
	}
	if err := s.repo.CreateContactMessage(ctx, msg); err != nil {
		return nil, &models.PersistenceError{Op: "store contact message", Err: err}
	}

	s.logger.Info(ctx, "[CONTACT_RECEIVED] Contact message stored", logging.Fields{
		"message_id": msg.ID,
	})

	return msg, nil
}

// ListContactMessages lists stored contact messages, newest first
func (s *ProfileService) ListContactMessages(ctx context.Context, limit, offset int) ([]*models.ContactMessage, error) {
	messages, err := s.repo.ListContactMessages(ctx, limit, offset)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list contact messages", Err: err}
	}
	if messages == nil {
		messages = []*models.ContactMessage{}
	}
	return messages, nil
}
