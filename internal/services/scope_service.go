// Package services – ScopeService
//
// This file implements the access scoper: given a user and their role, it
// resolves the set of conversation ids that user may observe. Admins see the
// whole platform (bounded by a page size), owners see conversations on their
// client's applications, experts see conversations on applications assigned
// to them, and every other role sees nothing.
//
// "No access" and "no data yet" are deliberately indistinguishable: both are
// an empty slice with a nil error, so read paths never branch on permission
// failures.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/permitdesk/go-inbox-backend/internal/domain"
	"github.com/permitdesk/go-inbox-backend/internal/repo"
)

// ScopeRepo defines the directory/conversation reads required by ScopeService.
type ScopeRepo interface {
	// ResolveClientIDForOwner maps an owner user id to their client id.
	ResolveClientIDForOwner(ctx context.Context, db *gorm.DB, ownerUserID string) (string, error)

	// ListApplicationIDsForClient lists application ids owned by a client.
	ListApplicationIDsForClient(ctx context.Context, db *gorm.DB, clientID string) ([]string, error)

	// ListApplicationIDsForExpert lists application ids assigned to an expert.
	ListApplicationIDsForExpert(ctx context.Context, db *gorm.DB, expertID string) ([]string, error)

	// ListConversationIDsByApplication lists conversation ids for applications.
	ListConversationIDsByApplication(ctx context.Context, db *gorm.DB, appIDs []string) ([]string, error)

	// ListConversationIDs lists up to limit conversation ids platform-wide.
	ListConversationIDs(ctx context.Context, db *gorm.DB, limit int) ([]string, error)
}

// ScopeService resolves which conversations a user may observe.
type ScopeService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo provides the directory reads.
	Repo ScopeRepo

	// AdminPageSize bounds the platform-wide scan for admins.
	AdminPageSize int
}

// NewScopeService constructs a ScopeService with a sane admin page bound.
func NewScopeService(db *gorm.DB, r ScopeRepo) *ScopeService {
	return &ScopeService{
		DB:            db,
		Repo:          r,
		AdminPageSize: 500,
	}
}

// VisibleConversationIDs returns the conversation ids userID may observe
// under the given role. An empty slice is a valid terminal state, never an
// error: unknown roles, owners without a client record, and users with zero
// qualifying applications all land there.
func (s *ScopeService) VisibleConversationIDs(ctx context.Context, userID, role string) ([]string, error) {
	switch role {
	case domain.RoleAdmin:
		return s.Repo.ListConversationIDs(ctx, s.DB, s.AdminPageSize)

	case domain.RoleOwner:
		clientID, err := s.Repo.ResolveClientIDForOwner(ctx, s.DB, userID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return []string{}, nil
			}
			return nil, err
		}
		appIDs, err := s.Repo.ListApplicationIDsForClient(ctx, s.DB, clientID)
		if err != nil {
			return nil, err
		}
		return s.Repo.ListConversationIDsByApplication(ctx, s.DB, appIDs)

	case domain.RoleExpert:
		appIDs, err := s.Repo.ListApplicationIDsForExpert(ctx, s.DB, userID)
		if err != nil {
			return nil, err
		}
		return s.Repo.ListConversationIDsByApplication(ctx, s.DB, appIDs)

	default:
		// No messaging access for this role.
		return []string{}, nil
	}
}
