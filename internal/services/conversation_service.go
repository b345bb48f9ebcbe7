// Package services – ConversationService
//
// This file implements the conversation registry. Conversations are created
// lazily, on the first view or first send, and the creation path has no lock
// to hide behind: any number of sessions can race to create the thread for
// the same application. The registry resolves the race optimistically:
// insert, and if the unique index rejects the row, re-read the winner. Under
// N concurrent callers exactly one row is persisted and all N converge on
// its id.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/permitdesk/go-inbox-backend/internal/domain"
	"github.com/permitdesk/go-inbox-backend/internal/repo"
)

// ConversationRepo defines the repository contract required by
// ConversationService.
type ConversationRepo interface {
	// GetApplication fetches the application the conversation belongs to.
	GetApplication(ctx context.Context, db *gorm.DB, id string) (*domain.Application, error)

	// GetConversation fetches a conversation by id.
	GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error)

	// GetConversationByApplication fetches the conversation for an application.
	GetConversationByApplication(ctx context.Context, db *gorm.DB, applicationID string) (*domain.Conversation, error)

	// CreateConversation inserts a row, returning repo.ErrDuplicate on a
	// uniqueness conflict.
	CreateConversation(ctx context.Context, db *gorm.DB, applicationID string) (*domain.Conversation, error)
}

// ConversationService resolves or creates the single conversation bound to
// an application.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the conversation repository used by this service.
	Repo ConversationRepo
}

// NewConversationService constructs a ConversationService.
func NewConversationService(db *gorm.DB, r ConversationRepo) *ConversationService {
	return &ConversationService{DB: db, Repo: r}
}

// GetOrCreate returns the conversation for applicationID, creating it when
// absent. Safe to call from any number of concurrent sessions.
//
// Resolution order:
//  1. Read the existing row; return it when present.
//  2. Verify the application exists (missing application aborts with
//     ErrApplicationNotFound — there is nothing to attach a thread to).
//  3. Insert. On a uniqueness conflict another caller won; re-read once and
//     return the winner. A miss after a conflict is reported as
//     ErrConflictUnresolved rather than retried forever.
func (s *ConversationService) GetOrCreate(ctx context.Context, applicationID string) (*domain.Conversation, error) {
	c, err := s.Repo.GetConversationByApplication(ctx, s.DB, applicationID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	if _, err := s.Repo.GetApplication(ctx, s.DB, applicationID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}

	c, err = s.Repo.CreateConversation(ctx, s.DB, applicationID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrDuplicate) {
		return nil, err
	}

	// Lost the race; the winner's row must be visible now.
	c, err = s.Repo.GetConversationByApplication(ctx, s.DB, applicationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConflictUnresolved
		}
		return nil, err
	}
	return c, nil
}

// Get fetches a conversation by id, mapping a missing row to
// ErrConversationNotFound.
func (s *ConversationService) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	c, err := s.Repo.GetConversation(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return c, nil
}
