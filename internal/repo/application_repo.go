// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the application/client directory reads
// used by access scoping and conversation creation. They are pure lookups:
// the messaging core never mutates clients or applications.
//
// Error semantics:
//   - Missing records surface as ErrNotFound (gorm.ErrRecordNotFound).
//   - Other DB errors are propagated raw.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/permitdesk/go-inbox-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetApplication fetches an application by id, or ErrNotFound.
func GetApplication(ctx context.Context, db *gorm.DB, id string) (*domain.Application, error) {
	var app domain.Application
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&app).Error
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// ResolveClientIDForOwner maps an owner user id to their client row id.
// Returns ErrNotFound when the user has no client record at all, which the
// scoper treats as "no applications yet", not as a failure.
func ResolveClientIDForOwner(ctx context.Context, db *gorm.DB, ownerUserID string) (string, error) {
	var cl domain.Client
	err := db.WithContext(ctx).
		Select("id").
		Where("owner_user_id = ?", ownerUserID).
		First(&cl).Error
	if err != nil {
		return "", err
	}
	return cl.ID, nil
}

// ListApplicationIDsForClient returns the ids of all applications owned by
// the given client. An empty slice is a valid result.
func ListApplicationIDsForClient(ctx context.Context, db *gorm.DB, clientID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Application{}).
		Where("client_id = ?", clientID).
		Order("created_at desc").
		Pluck("id", &ids).Error
	return ids, err
}

// ListApplicationIDsForExpert returns the ids of all applications assigned to
// the given expert. An empty slice is a valid result.
func ListApplicationIDsForExpert(ctx context.Context, db *gorm.DB, expertID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Application{}).
		Where("expert_id = ?", expertID).
		Order("created_at desc").
		Pluck("id", &ids).Error
	return ids, err
}
