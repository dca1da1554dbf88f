package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"factorio-server-manager/db"
	"factorio-server-manager/domain"
	"factorio-server-manager/version"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Resolve maps an approximate version to one stored game release. With
// stableOnly, releases newer than the latest stable are not considered.
func (s *Store) Resolve(ctx context.Context, approx string, flavor domain.BuildFlavor, platform domain.Platform, stableOnly bool) (db.GameRelease, error) {
	if err := version.Validate(approx); err != nil {
		return db.GameRelease{}, err
	}

	q := s.db.WithContext(ctx).Where("version LIKE ?", approx+"%")
	if stableOnly {
		q = q.Where("is_stable = ?", true)
	}
	var rows []db.GameRelease
	if err := q.Find(&rows).Error; err != nil {
		return db.GameRelease{}, fmt.Errorf("failed to load game releases: %w", err)
	}

	candidates := make([]version.Candidate, len(rows))
	for i := range rows {
		candidates[i] = version.Candidate{Version: rows[i].Version, Flavor: rows[i].BuildFlavor, Platform: rows[i].Platform, Ref: i}
	}
	picked, err := version.Select(candidates, approx, flavor, platform)
	if err != nil {
		s.log.Warnw("Could not find version", zap.String("approx", approx), zap.Error(err))
		return db.GameRelease{}, fmt.Errorf("%w. Try to sync the server or check the game version list", err)
	}
	return rows[picked.Ref.(int)], nil
}

// GameReleases lists every release, newest first.
func (s *Store) GameReleases(ctx context.Context) ([]db.GameRelease, error) {
	var rows []db.GameRelease
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	sortReleases(rows)
	return rows, nil
}

// GameReleasesForVersion lists every build of one exact version.
func (s *Store) GameReleasesForVersion(ctx context.Context, v string) ([]db.GameRelease, error) {
	var rows []db.GameRelease
	err := s.db.WithContext(ctx).Where("version = ?", v).Order("build_flavor, platform").Find(&rows).Error
	return rows, err
}

// GameRelease loads a release by id.
func (s *Store) GameRelease(ctx context.Context, id uint) (db.GameRelease, error) {
	var r db.GameRelease
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return r, notFound(err, "game release %d", id)
	}
	return r, nil
}

// SetInstallPath records where a release has been extracted.
func (s *Store) SetInstallPath(ctx context.Context, release *db.GameRelease, path string) error {
	if err := s.db.WithContext(ctx).Model(release).Update("local_install_path", path).Error; err != nil {
		return fmt.Errorf("failed to record install path: %w", err)
	}
	release.LocalInstallPath = &path
	return nil
}

func sortReleases(rows []db.GameRelease) {
	sort.SliceStable(rows, func(i, j int) bool {
		if c := version.CompareStrict(rows[i].Version, rows[j].Version); c != 0 {
			return c > 0
		}
		if rows[i].BuildFlavor != rows[j].BuildFlavor {
			return rows[i].BuildFlavor < rows[j].BuildFlavor
		}
		return rows[i].Platform < rows[j].Platform
	})
}

// ModByName loads a mod by its portal name.
func (s *Store) ModByName(ctx context.Context, name string) (db.Mod, error) {
	var m db.Mod
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&m).Error; err != nil {
		return m, notFound(err, "mod %s. Try to sync the server or check the mod portal", name)
	}
	return m, nil
}

// ModReleases lists the stored releases of a mod, newest first.
func (s *Store) ModReleases(ctx context.Context, mod db.Mod) ([]db.ModRelease, error) {
	var rows []db.ModRelease
	err := s.db.WithContext(ctx).Where("mod_id = ?", mod.ID).Order("released_at DESC").Find(&rows).Error
	for i := range rows {
		rows[i].Mod = mod
	}
	return rows, err
}

// ModReleaseByVersion loads one release of a mod.
func (s *Store) ModReleaseByVersion(ctx context.Context, mod db.Mod, v string) (db.ModRelease, error) {
	var rel db.ModRelease
	if err := s.db.WithContext(ctx).Where("mod_id = ? AND version = ?", mod.ID, v).First(&rel).Error; err != nil {
		return rel, notFound(err, "release %s of mod %s", v, mod.Name)
	}
	rel.Mod = mod
	return rel, nil
}

// LatestCompatibleModRelease returns the most recently published release
// whose target game version is not above gameVersion.
func (s *Store) LatestCompatibleModRelease(ctx context.Context, mod db.Mod, gameVersion string) (db.ModRelease, error) {
	releases, err := s.ModReleases(ctx, mod)
	if err != nil {
		return db.ModRelease{}, err
	}
	if rel, ok := PickCompatible(releases, gameVersion); ok {
		return rel, nil
	}
	return db.ModRelease{}, fmt.Errorf("%w: %s for game version %s", domain.ErrNoCompatibleModRelease, mod.Name, gameVersion)
}

// PickCompatible scans releases sorted newest first.
func PickCompatible(releases []db.ModRelease, gameVersion string) (db.ModRelease, bool) {
	for _, rel := range releases {
		if rel.FactorioVersion != "" && version.LessOrEqual(rel.FactorioVersion, gameVersion) {
			return rel, true
		}
	}
	return db.ModRelease{}, false
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}
