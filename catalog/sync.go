package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"factorio-server-manager/db"
	"factorio-server-manager/domain"
	"factorio-server-manager/factorio"
	"factorio-server-manager/metrics"
	"factorio-server-manager/notify"
	"factorio-server-manager/version"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Drift a noisy numeric field may show before a mod row is rewritten.
const (
	DownloadsTolerance = 100
	ScoreTolerance     = 1.0
)

const progressEvery = 20

// SyncGameReleases reconciles the download archive into the store, keyed by
// remote path. Install paths of known releases are never touched.
func (s *Store) SyncGameReleases(ctx context.Context, r *notify.Reporter) (SyncStats, error) {
	defer func(start time.Time) { metrics.RecordCatalogSync("game", time.Since(start)) }(time.Now())
	var stats SyncStats

	r.Running("Starting game version sync...")
	latest, err := s.remote.LatestReleases(ctx)
	if err != nil {
		return stats, err
	}
	links, err := s.remote.ArchiveLinks(ctx)
	if err != nil {
		return stats, err
	}

	r.Running("Contacted Factorio server, updating %d releases...", len(links))
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		candidate := db.GameRelease{
			Version:     link.Version,
			BuildFlavor: link.Flavor,
			Platform:    link.Platform,
			IsStable:    version.Compare(link.Version, latest.Stable.Alpha) <= 0,
			RemotePath:  link.Path,
		}
		outcome, err := s.upsertGameRelease(ctx, candidate)
		if err != nil {
			s.log.Errorw("Failed to store game release", zap.String("path", link.Path), zap.Error(err))
			outcome = "failed"
		}
		stats.count(outcome)
		metrics.RecordCatalogRecord("game", outcome)
	}

	s.log.Infow("Game release sync finished", zap.Stringer("stats", stats))
	r.Success("Successfully synced game versions (%s)", stats)
	return stats, nil
}

func (s *Store) upsertGameRelease(ctx context.Context, candidate db.GameRelease) (string, error) {
	var existing db.GameRelease
	err := s.db.WithContext(ctx).Where("remote_path = ?", candidate.RemotePath).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "added", s.db.WithContext(ctx).Create(&candidate).Error
	case err != nil:
		return "", err
	}

	if !GameReleaseChanged(existing, candidate) {
		return "skipped", nil
	}
	err = s.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
		"version":      candidate.Version,
		"build_flavor": candidate.BuildFlavor,
		"platform":     candidate.Platform,
		"is_stable":    candidate.IsStable,
	}).Error
	return "updated", err
}

// GameReleaseChanged reports whether candidate differs from old in a field
// the sync owns.
func GameReleaseChanged(old, candidate db.GameRelease) bool {
	return old.Version != candidate.Version ||
		old.BuildFlavor != candidate.BuildFlavor ||
		old.Platform != candidate.Platform ||
		old.IsStable != candidate.IsStable
}

// SyncMods reconciles the whole mod portal listing into the store. A page
// that cannot be fetched is logged and skipped.
func (s *Store) SyncMods(ctx context.Context, r *notify.Reporter) (SyncStats, error) {
	defer func(start time.Time) { metrics.RecordCatalogSync("mods", time.Since(start)) }(time.Now())
	var stats SyncStats

	r.Running("Starting mod list sync...")
	results, failedPages, err := s.fetchModList(ctx, r)
	if err != nil {
		return stats, err
	}
	stats.Failed += failedPages

	var existing []db.Mod
	if err := s.db.WithContext(ctx).Find(&existing).Error; err != nil {
		return stats, fmt.Errorf("failed to load mods: %w", err)
	}
	byName := make(map[string]db.Mod, len(existing))
	for _, m := range existing {
		byName[m.Name] = m
	}

	header := fmt.Sprintf("%d mods retrieved, updating DB (this might take some time)...", len(results))
	r.Running("%s", header)
	for i, res := range results {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		old, found := byName[res.Name]
		outcome, err := s.upsertMod(ctx, old, found, res)
		if err != nil {
			s.log.Errorw("Failed to store mod", zap.String("mod", res.Name), zap.Error(err))
			outcome = "failed"
		}
		stats.count(outcome)
		metrics.RecordCatalogRecord("mod", outcome)
		if i%progressEvery == 0 {
			r.Running("%s %d%%", header, i*100/len(results))
		}
	}

	s.log.Infow("Mod sync finished", zap.Stringer("stats", stats))
	r.Success("Successfully synced mod list (%s)", stats)
	return stats, nil
}

func (s *Store) fetchModList(ctx context.Context, r *notify.Reporter) ([]factorio.ModResult, int, error) {
	pageSize := factorio.ModPageSize
	pageCount := 1
	failed := 0
	var results []factorio.ModResult

	for page := 1; page <= pageCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, failed, err
		}
		r.Running("Obtaining page %d of %d (page size: %d, starting at %d)...", page, pageCount, pageSize, (page-1)*pageSize)
		p, err := s.remote.ModPage(ctx, page, pageSize)
		if err != nil {
			s.log.Errorw("Mod page failed, skipping", zap.Int("page", page), zap.Error(err))
			failed++
			continue
		}
		if p.Pagination.PageCount > pageCount {
			pageCount = p.Pagination.PageCount
		}
		for _, res := range p.Results {
			// Mods without any release cannot be installed.
			if res.LatestRelease != nil {
				results = append(results, res)
			}
		}
	}

	if failed > 0 && failed == pageCount {
		return nil, failed, fmt.Errorf("%w: every mod page failed", domain.ErrRemoteAPI)
	}
	return results, failed, nil
}

func (s *Store) upsertMod(ctx context.Context, old db.Mod, found bool, res factorio.ModResult) (string, error) {
	if found && !ModChanged(old, res) {
		s.log.Debugw("Mod unchanged, skipped", zap.String("mod", res.Name))
		return "skipped", nil
	}

	m := old
	m.Name = res.Name
	m.Title = res.Title
	m.Owner = res.Owner
	m.Summary = res.Summary
	m.DownloadsCount = res.DownloadsCount
	m.Category = res.Category
	m.Score = res.Score
	m.LatestReleaseDownloadURL = res.LatestRelease.DownloadURL

	if !found {
		return "added", s.db.WithContext(ctx).Create(&m).Error
	}
	return "updated", s.db.WithContext(ctx).Save(&m).Error
}

// ModChanged is the significance predicate of the mod sync: identity and
// display fields must match exactly, download count and score may drift
// within their tolerance.
func ModChanged(old db.Mod, res factorio.ModResult) bool {
	latestURL := ""
	if res.LatestRelease != nil {
		latestURL = res.LatestRelease.DownloadURL
	}
	return old.Name != res.Name ||
		old.Title != res.Title ||
		old.Owner != res.Owner ||
		old.Summary != res.Summary ||
		abs(old.DownloadsCount-res.DownloadsCount) > DownloadsTolerance ||
		!sameCategory(old.Category, res.Category) ||
		math.Abs(old.Score-res.Score) > ScoreTolerance ||
		old.LatestReleaseDownloadURL != latestURL
}

func sameCategory(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// SyncModReleases fetches the release list of one mod and reconciles it,
// keyed by download URL.
func (s *Store) SyncModReleases(ctx context.Context, mod db.Mod, r *notify.Reporter) (SyncStats, error) {
	defer func(start time.Time) { metrics.RecordCatalogSync("mod_releases", time.Since(start)) }(time.Now())
	var stats SyncStats

	r.Running("Fetching releases for %s...", mod.Name)
	detail, err := s.remote.ModDetail(ctx, mod.Name)
	if err != nil {
		return stats, err
	}

	var existing []db.ModRelease
	if err := s.db.WithContext(ctx).Where("mod_id = ?", mod.ID).Find(&existing).Error; err != nil {
		return stats, fmt.Errorf("failed to load releases of %s: %w", mod.Name, err)
	}
	byURL := make(map[string]db.ModRelease, len(existing))
	for _, rel := range existing {
		byURL[rel.DownloadURL] = rel
	}

	for i, entry := range detail.Releases {
		if i%progressEvery == 0 {
			r.Running("Adding release %d of %d...", i+1, len(detail.Releases))
		}
		old, found := byURL[entry.DownloadURL]
		outcome, err := s.upsertModRelease(ctx, mod, old, found, entry)
		if err != nil {
			s.log.Errorw("Failed to store mod release", zap.String("mod", mod.Name), zap.String("version", entry.Version), zap.Error(err))
			outcome = "failed"
		}
		stats.count(outcome)
		metrics.RecordCatalogRecord("mod_release", outcome)
	}

	s.log.Infow("Mod release sync finished", zap.String("mod", mod.Name), zap.Stringer("stats", stats))
	r.Success("Successfully updated release list of %s (%s)", mod.Name, stats)
	return stats, nil
}

func (s *Store) upsertModRelease(ctx context.Context, mod db.Mod, old db.ModRelease, found bool, entry factorio.ReleaseEntry) (string, error) {
	if found && !ModReleaseChanged(old, entry) {
		return "skipped", nil
	}

	rel := old
	rel.DownloadURL = entry.DownloadURL
	rel.FileName = entry.FileName
	rel.InfoJSON = entry.InfoString()
	rel.FactorioVersion = entry.FactorioVersion()
	rel.ReleasedAt = entry.ReleasedAt.UTC()
	rel.Version = entry.Version
	rel.SHA1 = entry.SHA1
	rel.ModID = mod.ID

	tx := s.db.WithContext(ctx).Omit("Mod")
	if !found {
		return "added", tx.Create(&rel).Error
	}
	return "updated", tx.Save(&rel).Error
}

// ModReleaseChanged is the significance predicate of the release sync.
func ModReleaseChanged(old db.ModRelease, entry factorio.ReleaseEntry) bool {
	return old.FileName != entry.FileName ||
		old.InfoJSON != entry.InfoString() ||
		!old.ReleasedAt.Truncate(time.Second).Equal(entry.ReleasedAt.Truncate(time.Second)) ||
		old.Version != entry.Version ||
		old.SHA1 != entry.SHA1
}

func (s *SyncStats) count(outcome string) {
	switch outcome {
	case "added":
		s.Added++
	case "updated":
		s.Updated++
	case "skipped":
		s.Skipped++
	default:
		s.Failed++
	}
}
