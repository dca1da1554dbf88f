// Package profile coordinates named server profiles: their game release,
// mods, files, auth tokens and the build and run pipeline.
package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"factorio-server-manager/catalog"
	"factorio-server-manager/db"
	"factorio-server-manager/domain"
	"factorio-server-manager/factorio"
	"factorio-server-manager/fetch"
	"factorio-server-manager/logger"
	"factorio-server-manager/notify"
	"factorio-server-manager/process"
	"factorio-server-manager/version"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Remote is what the orchestrator needs from the download site.
type Remote interface {
	LatestReleases(ctx context.Context) (*factorio.LatestReleases, error)
	ClientDownloadURL(remotePath string) string
}

// Options wires an Orchestrator.
type Options struct {
	Catalog     *catalog.Store
	Fetcher     *fetch.Fetcher
	Supervisor  *process.Supervisor
	Remote      Remote
	Sessions    *Sessions
	ProfilesDir string
	PublicURL   string
	Log         *zap.SugaredLogger
}

// Orchestrator runs profile operations. It is safe for concurrent use; the
// server slot is serialised by the supervisor.
type Orchestrator struct {
	db          *gorm.DB
	catalog     *catalog.Store
	fetcher     *fetch.Fetcher
	supervisor  *process.Supervisor
	remote      Remote
	sessions    *Sessions
	profilesDir string
	publicURL   string
	log         *zap.SugaredLogger
	now         func() time.Time
}

// New returns an Orchestrator.
func New(opts Options) *Orchestrator {
	sessions := opts.Sessions
	if sessions == nil {
		sessions = NewSessions()
	}
	return &Orchestrator{
		db:          opts.Catalog.DB(),
		catalog:     opts.Catalog,
		fetcher:     opts.Fetcher,
		supervisor:  opts.Supervisor,
		remote:      opts.Remote,
		sessions:    sessions,
		profilesDir: opts.ProfilesDir,
		publicURL:   opts.PublicURL,
		log:         logger.OrNop(opts.Log),
		now:         time.Now,
	}
}

// Sessions is the session registry shared with the command layer.
func (o *Orchestrator) Sessions() *Sessions { return o.sessions }

// Catalog is the underlying catalog store.
func (o *Orchestrator) Catalog() *catalog.Store { return o.catalog }

// Supervisor is the server slot owner.
func (o *Orchestrator) Supervisor() *process.Supervisor { return o.supervisor }

// Dir is the working directory of a profile.
func (o *Orchestrator) Dir(name string) string {
	return filepath.Join(o.profilesDir, name)
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: profile name", domain.ErrMissingArgument)
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: profile name %q may only contain letters, digits, '.', '_' and '-'", domain.ErrInvalidArgument, name)
	}
	return nil
}

// Get loads a profile with its game release.
func (o *Orchestrator) Get(ctx context.Context, name string) (db.Profile, error) {
	var p db.Profile
	err := o.db.WithContext(ctx).Preload("GameRelease").Where("name = ?", name).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return p, fmt.Errorf("%w: profile %s", domain.ErrNotFound, name)
	}
	return p, err
}

// Active loads the session's active profile.
func (o *Orchestrator) Active(ctx context.Context, sess *Session) (db.Profile, error) {
	name, ok := sess.Active()
	if !ok {
		return db.Profile{}, domain.ErrNoActiveProfile
	}
	return o.Get(ctx, name)
}

// ListProfiles returns every profile ordered by name.
func (o *Orchestrator) ListProfiles(ctx context.Context) ([]db.Profile, error) {
	var profiles []db.Profile
	err := o.db.WithContext(ctx).Preload("GameRelease").Order("name").Find(&profiles).Error
	return profiles, err
}

func (o *Orchestrator) exists(ctx context.Context, name string) (bool, error) {
	var n int64
	err := o.db.WithContext(ctx).Model(&db.Profile{}).Where("name = ?", name).Count(&n).Error
	return n > 0, err
}

// resolve picks the server build for versionSpec. An empty spec means the
// latest stable, or the latest experimental when allowed. Explicit specs
// match every stored release.
func (o *Orchestrator) resolve(ctx context.Context, versionSpec string, experimental bool) (db.GameRelease, string, error) {
	stableOnly := false
	if versionSpec == "" {
		stableOnly = !experimental
		latest, err := o.remote.LatestReleases(ctx)
		if err != nil {
			return db.GameRelease{}, "", err
		}
		versionSpec = latest.Stable.Headless
		if experimental {
			versionSpec = latest.Experimental.Headless
		}
	}
	release, err := o.catalog.Resolve(ctx, versionSpec, domain.ServerBuildFlavor, domain.ServerPlatform, stableOnly)
	return release, versionSpec, err
}

// CreateProfile creates a profile, its directory, and makes it active.
func (o *Orchestrator) CreateProfile(ctx context.Context, sess *Session, name, versionSpec string, experimental bool) (db.Profile, error) {
	if err := checkName(name); err != nil {
		return db.Profile{}, err
	}
	if taken, err := o.exists(ctx, name); err != nil {
		return db.Profile{}, err
	} else if taken {
		return db.Profile{}, fmt.Errorf("%w: profile %s already exists", domain.ErrNameConflict, name)
	}

	release, spec, err := o.resolve(ctx, versionSpec, experimental)
	if err != nil {
		return db.Profile{}, err
	}

	p := db.Profile{
		Name:              name,
		TargetVersion:     spec,
		AllowExperimental: experimental,
		GameReleaseID:     release.ID,
	}
	if err := o.db.WithContext(ctx).Omit(clause.Associations).Create(&p).Error; err != nil {
		return db.Profile{}, fmt.Errorf("failed to create profile %s: %w", name, err)
	}
	p.GameRelease = release

	if err := os.MkdirAll(o.Dir(name), 0o755); err != nil {
		return p, fmt.Errorf("failed to create directory of %s: %w", name, err)
	}
	sess.SetActive(name)
	o.log.Infow("Profile created", zap.String("profile", name), zap.String("version", release.Version))
	return p, nil
}

// SwapProfile makes an existing profile active.
func (o *Orchestrator) SwapProfile(ctx context.Context, sess *Session, name string) (db.Profile, error) {
	p, err := o.Get(ctx, name)
	if err != nil {
		return p, err
	}
	sess.SetActive(name)
	return p, nil
}

// CopyProfile duplicates the active profile under newName: same release,
// same mods, same config files. The copy becomes active.
func (o *Orchestrator) CopyProfile(ctx context.Context, sess *Session, newName string) (db.Profile, error) {
	src, err := o.Active(ctx, sess)
	if err != nil {
		return db.Profile{}, err
	}
	if err := checkName(newName); err != nil {
		return db.Profile{}, err
	}
	if taken, err := o.exists(ctx, newName); err != nil {
		return db.Profile{}, err
	} else if taken {
		return db.Profile{}, fmt.Errorf("%w: profile %s already exists", domain.ErrNameConflict, newName)
	}

	installs, err := o.installations(ctx, src.ID)
	if err != nil {
		return db.Profile{}, err
	}

	dst := db.Profile{
		Name:              newName,
		TargetVersion:     src.TargetVersion,
		AllowExperimental: src.AllowExperimental,
		GameReleaseID:     src.GameReleaseID,
	}
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&dst).Error; err != nil {
			return err
		}
		for _, in := range installs {
			row := db.ModInstallation{ProfileID: dst.ID, ModReleaseID: in.ModReleaseID}
			if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return db.Profile{}, fmt.Errorf("failed to copy profile %s: %w", src.Name, err)
	}
	dst.GameRelease = src.GameRelease

	if err := copyProfileFiles(o.Dir(src.Name), o.Dir(newName)); err != nil {
		return dst, err
	}
	sess.SetActive(newName)
	o.log.Infow("Profile copied", zap.String("from", src.Name), zap.String("to", newName))
	return dst, nil
}

// UpdateProfile moves the active profile to another game release. It
// returns false when the profile is already on the resolved version. The
// mods directory and modpack are dropped so the next build starts clean.
func (o *Orchestrator) UpdateProfile(ctx context.Context, sess *Session, versionSpec string, experimental *bool) (db.Profile, bool, error) {
	p, err := o.Active(ctx, sess)
	if err != nil {
		return p, false, err
	}
	allow := p.AllowExperimental
	if experimental != nil {
		allow = *experimental
	}

	release, spec, err := o.resolve(ctx, versionSpec, allow)
	if err != nil {
		return p, false, err
	}
	if version.CompareStrict(release.Version, p.GameRelease.Version) == 0 && allow == p.AllowExperimental {
		return p, false, nil
	}

	err = o.db.WithContext(ctx).Model(&p).Omit(clause.Associations).Updates(map[string]any{
		"target_version":     spec,
		"allow_experimental": allow,
		"game_release_id":    release.ID,
	}).Error
	if err != nil {
		return p, false, fmt.Errorf("failed to update profile %s: %w", p.Name, err)
	}
	p.TargetVersion, p.AllowExperimental, p.GameReleaseID, p.GameRelease = spec, allow, release.ID, release

	o.dropBuiltMods(p.Name)
	o.log.Infow("Profile updated", zap.String("profile", p.Name), zap.String("version", release.Version))
	return p, true, nil
}

// RemoveProfile stops the profile's server if it owns it, then deletes its
// mod installations, directory and row.
func (o *Orchestrator) RemoveProfile(ctx context.Context, name string) error {
	p, err := o.Get(ctx, name)
	if err != nil {
		return err
	}

	if o.supervisor.StopIfOwned(name) {
		o.log.Infow("Stopped server of removed profile", zap.String("profile", name))
	}
	o.sessions.Forget(name)

	if err := o.db.WithContext(ctx).Unscoped().Where("profile_id = ?", p.ID).Delete(&db.ModInstallation{}).Error; err != nil {
		return fmt.Errorf("failed to delete mods of %s: %w", name, err)
	}
	if err := os.RemoveAll(o.Dir(name)); err != nil {
		return fmt.Errorf("failed to delete directory of %s: %w", name, err)
	}
	if err := o.db.WithContext(ctx).Unscoped().Delete(&p).Error; err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", name, err)
	}
	o.log.Infow("Profile removed", zap.String("profile", name))
	return nil
}

func (o *Orchestrator) target(p db.Profile, save string) process.Target {
	t := process.Target{Name: p.Name, Dir: o.Dir(p.Name), Save: save}
	if p.GameRelease.Installed() {
		t.InstallPath = *p.GameRelease.LocalInstallPath
	}
	return t
}

// Build runs the pipeline of the active profile: fetch game, then mods,
// then generate the world. The first failure stops it.
func (o *Orchestrator) Build(ctx context.Context, sess *Session, r *notify.Reporter) error {
	p, err := o.Active(ctx, sess)
	if err != nil {
		return err
	}
	return o.BuildPipeline(ctx, p, r)
}

// BuildPipeline builds p.
func (o *Orchestrator) BuildPipeline(ctx context.Context, p db.Profile, r *notify.Reporter) error {
	release := p.GameRelease
	if _, err := o.fetcher.FetchGame(ctx, &release, r); err != nil {
		return err
	}
	p.GameRelease = release

	releases, err := o.InstalledReleases(ctx, p)
	if err != nil {
		return err
	}
	if err := o.fetcher.FetchMods(ctx, o.Dir(p.Name), releases, r); err != nil {
		return err
	}
	return o.supervisor.BuildWorld(ctx, o.target(p, ""), r)
}

// Start launches the server of the active profile on save, the generated
// map when empty.
func (o *Orchestrator) Start(ctx context.Context, sess *Session, save string, r *notify.Reporter) error {
	p, err := o.Active(ctx, sess)
	if err != nil {
		return err
	}
	if save != "" {
		if _, err := o.profileFile(p.Name, save); err != nil {
			return err
		}
	}
	return o.supervisor.Start(o.target(p, save), r)
}

// Stop stops whatever server is running. It returns false when idle.
func (o *Orchestrator) Stop() bool {
	return o.supervisor.Stop()
}

// dropBuiltMods removes the downloaded mods and modpack of a profile.
func (o *Orchestrator) dropBuiltMods(name string) {
	dir := o.Dir(name)
	for _, path := range []string{filepath.Join(dir, domain.ModDirectory), filepath.Join(dir, fetch.ModPackName(name))} {
		if err := os.RemoveAll(path); err != nil {
			o.log.Warnw("Failed to remove built mods", zap.String("path", path), zap.Error(err))
		}
	}
}

// Info summarises the active profile.
type Info struct {
	Profile db.Profile
	Mods    []db.ModRelease
	Server  process.State
}

// Info describes the active profile and the server slot.
func (o *Orchestrator) Info(ctx context.Context, sess *Session) (Info, error) {
	p, err := o.Active(ctx, sess)
	if err != nil {
		return Info{}, err
	}
	mods, err := o.InstalledReleases(ctx, p)
	if err != nil {
		return Info{}, err
	}
	return Info{Profile: p, Mods: mods, Server: o.supervisor.Status()}, nil
}
