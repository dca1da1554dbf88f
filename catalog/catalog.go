// Package catalog keeps the local store of game releases, mods and mod
// releases in line with the remote listings.
package catalog

import (
	"context"
	"fmt"

	"factorio-server-manager/factorio"
	"factorio-server-manager/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Remote is the subset of the remote API the catalog reads.
type Remote interface {
	LatestReleases(ctx context.Context) (*factorio.LatestReleases, error)
	ArchiveLinks(ctx context.Context) ([]factorio.ArchiveLink, error)
	ModPage(ctx context.Context, page, pageSize int) (*factorio.ModListPage, error)
	ModDetail(ctx context.Context, name string) (*factorio.ModDetail, error)
}

// Store reads and synchronises the catalog.
type Store struct {
	db     *gorm.DB
	remote Remote
	log    *zap.SugaredLogger
}

// New returns a Store over conn. remote may be nil for read-only use.
func New(conn *gorm.DB, remote Remote, log *zap.SugaredLogger) *Store {
	return &Store{db: conn, remote: remote, log: logger.OrNop(log)}
}

// DB exposes the underlying connection to sibling packages.
func (s *Store) DB() *gorm.DB { return s.db }

// SyncStats counts what a sync did with each candidate record.
type SyncStats struct {
	Added   int
	Updated int
	Skipped int
	Failed  int
}

func (s SyncStats) String() string {
	return fmt.Sprintf("%d added, %d updated, %d unchanged, %d failed", s.Added, s.Updated, s.Skipped, s.Failed)
}
