// Package access keeps the list of users and roles allowed to run commands.
package access

import (
	"context"
	"fmt"

	"factorio-server-manager/db"
	"factorio-server-manager/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store reads and edits the allow-list.
type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// New returns a Store over conn.
func New(conn *gorm.DB, log *zap.SugaredLogger) *Store {
	return &Store{db: conn, log: logger.OrNop(log)}
}

// Allow adds id to the list. It returns false when id was already allowed.
func (s *Store) Allow(ctx context.Context, id string, kind db.SubjectKind) (bool, error) {
	var n int64
	q := s.db.WithContext(ctx).Model(&db.AuthorizedID{}).Where("subject_id = ? AND kind = ?", id, kind)
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to read authorized ids: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if err := s.db.WithContext(ctx).Create(&db.AuthorizedID{SubjectID: id, Kind: kind}).Error; err != nil {
		return false, fmt.Errorf("failed to authorize %s %s: %w", kind, id, err)
	}
	s.log.Infow("Authorized", zap.String("kind", string(kind)), zap.String("id", id))
	return true, nil
}

// Disallow removes id from the list. It returns false when id was not allowed.
func (s *Store) Disallow(ctx context.Context, id string, kind db.SubjectKind) (bool, error) {
	res := s.db.WithContext(ctx).Unscoped().Where("subject_id = ? AND kind = ?", id, kind).Delete(&db.AuthorizedID{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to unauthorize %s %s: %w", kind, id, res.Error)
	}
	if res.RowsAffected > 0 {
		s.log.Infow("Unauthorized", zap.String("kind", string(kind)), zap.String("id", id))
	}
	return res.RowsAffected > 0, nil
}

// Authorized reports whether author, or one of its roles, is on the list.
func (s *Store) Authorized(ctx context.Context, author string, roles []string) (bool, error) {
	q := s.db.WithContext(ctx).Model(&db.AuthorizedID{}).
		Where("kind = ? AND subject_id = ?", db.SubjectUser, author)
	if len(roles) > 0 {
		q = q.Or("kind = ? AND subject_id IN ?", db.SubjectRole, roles)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to read authorized ids: %w", err)
	}
	return n > 0, nil
}

// List returns every allowed id, users first.
func (s *Store) List(ctx context.Context) ([]db.AuthorizedID, error) {
	var ids []db.AuthorizedID
	err := s.db.WithContext(ctx).Order("kind DESC, subject_id").Find(&ids).Error
	return ids, err
}
