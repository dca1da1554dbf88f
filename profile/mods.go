package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"factorio-server-manager/db"
	"factorio-server-manager/domain"
	"factorio-server-manager/fetch"
	"factorio-server-manager/notify"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

func (o *Orchestrator) installations(ctx context.Context, profileID uint) ([]db.ModInstallation, error) {
	var rows []db.ModInstallation
	err := o.db.WithContext(ctx).Preload("ModRelease.Mod").Where("profile_id = ?", profileID).Order("id").Find(&rows).Error
	return rows, err
}

// InstalledReleases lists the mod releases of p with their mods.
func (o *Orchestrator) InstalledReleases(ctx context.Context, p db.Profile) ([]db.ModRelease, error) {
	rows, err := o.installations(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mods of %s: %w", p.Name, err)
	}
	releases := make([]db.ModRelease, len(rows))
	for i, in := range rows {
		releases[i] = in.ModRelease
	}
	return releases, nil
}

// ListMods lists the mod releases of the active profile.
func (o *Orchestrator) ListMods(ctx context.Context, sess *Session) ([]db.ModRelease, error) {
	p, err := o.Active(ctx, sess)
	if err != nil {
		return nil, err
	}
	return o.InstalledReleases(ctx, p)
}

func (o *Orchestrator) installationOf(ctx context.Context, p db.Profile, mod db.Mod) (db.ModInstallation, bool, error) {
	rows, err := o.installations(ctx, p.ID)
	if err != nil {
		return db.ModInstallation{}, false, err
	}
	for _, in := range rows {
		if in.ModRelease.ModID == mod.ID {
			return in, true, nil
		}
	}
	return db.ModInstallation{}, false, nil
}

// findRelease looks up a release of mod: v exactly, or the latest release
// compatible with gameVersion when v is empty.
func (o *Orchestrator) findRelease(ctx context.Context, mod db.Mod, v, gameVersion string) (db.ModRelease, error) {
	if v != "" {
		return o.catalog.ModReleaseByVersion(ctx, mod, v)
	}
	return o.catalog.LatestCompatibleModRelease(ctx, mod, gameVersion)
}

// releaseFor is findRelease with one release sync of the mod on a miss.
func (o *Orchestrator) releaseFor(ctx context.Context, mod db.Mod, v, gameVersion string, r *notify.Reporter) (db.ModRelease, error) {
	rel, err := o.findRelease(ctx, mod, v, gameVersion)
	if err == nil || !(errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrNoCompatibleModRelease)) {
		return rel, err
	}
	if _, err := o.catalog.SyncModReleases(ctx, mod, r); err != nil {
		return rel, err
	}
	return o.findRelease(ctx, mod, v, gameVersion)
}

// AddMod installs a release of mod name into the active profile: version v
// or the latest compatible one. A mod may only be installed once.
func (o *Orchestrator) AddMod(ctx context.Context, sess *Session, name, v string, r *notify.Reporter) (db.ModRelease, error) {
	p, err := o.Active(ctx, sess)
	if err != nil {
		return db.ModRelease{}, err
	}
	mod, err := o.catalog.ModByName(ctx, name)
	if err != nil {
		return db.ModRelease{}, err
	}

	if in, found, err := o.installationOf(ctx, p, mod); err != nil {
		return db.ModRelease{}, err
	} else if found {
		return db.ModRelease{}, fmt.Errorf("%w: %s %s is already installed. Remove it first to change version", domain.ErrNameConflict, name, in.ModRelease.Version)
	}

	rel, err := o.releaseFor(ctx, mod, v, p.GameRelease.Version, r)
	if err != nil {
		return db.ModRelease{}, err
	}
	row := db.ModInstallation{ProfileID: p.ID, ModReleaseID: rel.ID}
	if err := o.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return db.ModRelease{}, fmt.Errorf("failed to add %s: %w", name, err)
	}
	o.removeModPack(p.Name)
	o.log.Infow("Mod added", zap.String("profile", p.Name), zap.String("mod", name), zap.String("version", rel.Version))
	return rel, nil
}

// RemoveMod uninstalls mod name from the active profile.
func (o *Orchestrator) RemoveMod(ctx context.Context, sess *Session, name string) (db.ModRelease, error) {
	p, err := o.Active(ctx, sess)
	if err != nil {
		return db.ModRelease{}, err
	}
	mod, err := o.catalog.ModByName(ctx, name)
	if err != nil {
		return db.ModRelease{}, err
	}
	in, found, err := o.installationOf(ctx, p, mod)
	if err != nil {
		return db.ModRelease{}, err
	}
	if !found {
		return db.ModRelease{}, fmt.Errorf("%w: mod %s in profile %s", domain.ErrNotFound, name, p.Name)
	}

	modsDir := filepath.Join(o.Dir(p.Name), domain.ModDirectory)
	for _, file := range []string{in.ModRelease.FileName, domain.ModListFile} {
		if err := os.Remove(filepath.Join(modsDir, file)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return db.ModRelease{}, fmt.Errorf("failed to delete %s: %w", file, err)
		}
	}
	if err := o.db.WithContext(ctx).Unscoped().Delete(&in).Error; err != nil {
		return db.ModRelease{}, fmt.Errorf("failed to remove %s: %w", name, err)
	}
	o.removeModPack(p.Name)
	o.log.Infow("Mod removed", zap.String("profile", p.Name), zap.String("mod", name))
	return in.ModRelease, nil
}

// UpdateMod syncs the releases of mod name and moves the active profile to
// the latest compatible one. It returns the old and new release; they are
// equal when nothing changed.
func (o *Orchestrator) UpdateMod(ctx context.Context, sess *Session, name string, r *notify.Reporter) (db.ModRelease, db.ModRelease, error) {
	p, err := o.Active(ctx, sess)
	if err != nil {
		return db.ModRelease{}, db.ModRelease{}, err
	}
	mod, err := o.catalog.ModByName(ctx, name)
	if err != nil {
		return db.ModRelease{}, db.ModRelease{}, err
	}
	in, found, err := o.installationOf(ctx, p, mod)
	if err != nil {
		return db.ModRelease{}, db.ModRelease{}, err
	}
	if !found {
		return db.ModRelease{}, db.ModRelease{}, fmt.Errorf("%w: mod %s in profile %s", domain.ErrNotFound, name, p.Name)
	}

	if _, err := o.catalog.SyncModReleases(ctx, mod, r); err != nil {
		return in.ModRelease, in.ModRelease, err
	}
	latest, err := o.catalog.LatestCompatibleModRelease(ctx, mod, p.GameRelease.Version)
	if err != nil {
		return in.ModRelease, in.ModRelease, err
	}
	if latest.ID == in.ModReleaseID {
		return in.ModRelease, latest, nil
	}

	if err := o.db.WithContext(ctx).Model(&in).Omit(clause.Associations).Update("mod_release_id", latest.ID).Error; err != nil {
		return in.ModRelease, in.ModRelease, fmt.Errorf("failed to update %s: %w", name, err)
	}
	o.removeModPack(p.Name)
	o.log.Infow("Mod updated", zap.String("profile", p.Name), zap.String("mod", name), zap.String("from", in.ModRelease.Version), zap.String("to", latest.Version))
	return in.ModRelease, latest, nil
}

func (o *Orchestrator) removeModPack(name string) {
	path := filepath.Join(o.Dir(name), fetch.ModPackName(name))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.log.Warnw("Failed to remove modpack", zap.String("path", path), zap.Error(err))
	}
}
