package db

import (
	"time"

	"factorio-server-manager/domain"

	"gorm.io/gorm"
)

// GameRelease is one downloadable game build, keyed by its remote path.
type GameRelease struct {
	gorm.Model
	Version          string             `gorm:"index"`
	BuildFlavor      domain.BuildFlavor // alpha or headless
	Platform         domain.Platform
	IsStable         bool
	RemotePath       string  `gorm:"uniqueIndex"` // <version>/<build>/<platform>
	LocalInstallPath *string // Set once the release has been fetched and extracted
}

// Installed reports whether the release has been fetched.
func (r GameRelease) Installed() bool {
	return r.LocalInstallPath != nil && *r.LocalInstallPath != ""
}

// Mod is a mod portal entry.
type Mod struct {
	gorm.Model
	Name                     string `gorm:"uniqueIndex"`
	Title                    string
	Owner                    string
	Summary                  string
	DownloadsCount           int
	Category                 *string
	Score                    float64
	LatestReleaseDownloadURL string
}

// ModRelease is one published version of a mod.
type ModRelease struct {
	gorm.Model
	DownloadURL     string `gorm:"uniqueIndex"`
	FileName        string `gorm:"uniqueIndex"`
	InfoJSON        string // Raw info.json payload as published by the portal
	FactorioVersion string // Game version the release targets
	ReleasedAt      time.Time
	Version         string
	SHA1            string
	ModID           uint `gorm:"index"`
	Mod             Mod
}

// Profile is a named server configuration.
type Profile struct {
	gorm.Model
	Name              string `gorm:"uniqueIndex"`
	TargetVersion     string // Approximate version requested by the user
	AllowExperimental bool
	GameReleaseID     uint
	GameRelease       GameRelease
	Token             *string
	TokenExpiry       *time.Time
}

// ModInstallation binds a mod release to a profile.
type ModInstallation struct {
	gorm.Model
	ProfileID    uint `gorm:"index"`
	ModReleaseID uint
	ModRelease   ModRelease
}

// SubjectKind tells whether an authorized id names a user or a role.
type SubjectKind string

const (
	SubjectUser SubjectKind = "user"
	SubjectRole SubjectKind = "role"
)

// AuthorizedID is a user or role allowed to run commands.
type AuthorizedID struct {
	gorm.Model
	SubjectID string      `gorm:"uniqueIndex:idx_authorized_subject"`
	Kind      SubjectKind `gorm:"uniqueIndex:idx_authorized_subject"`
}

// AllModels is the migration set.
func AllModels() []any {
	return []any{&GameRelease{}, &Mod{}, &ModRelease{}, &Profile{}, &ModInstallation{}, &AuthorizedID{}}
}
