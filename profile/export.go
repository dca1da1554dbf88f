package profile

import (
	"context"
	"errors"
	"fmt"

	"factorio-server-manager/domain"
	"factorio-server-manager/notify"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manifest is the portable description of a profile.
type Manifest struct {
	Name              string        `yaml:"name"`
	TargetVersion     string        `yaml:"target_version"`
	GameVersion       string        `yaml:"game_version,omitempty"`
	AllowExperimental bool          `yaml:"allow_experimental"`
	Mods              []ManifestMod `yaml:"mods,omitempty"`
}

// ManifestMod pins one mod release.
type ManifestMod struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ExportProfile renders profile name as YAML.
func (o *Orchestrator) ExportProfile(ctx context.Context, name string) ([]byte, error) {
	p, err := o.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	releases, err := o.InstalledReleases(ctx, p)
	if err != nil {
		return nil, err
	}

	m := Manifest{
		Name:              p.Name,
		TargetVersion:     p.TargetVersion,
		GameVersion:       p.GameRelease.Version,
		AllowExperimental: p.AllowExperimental,
	}
	for _, rel := range releases {
		m.Mods = append(m.Mods, ManifestMod{Name: rel.Mod.Name, Version: rel.Version})
	}
	return yaml.Marshal(m)
}

// ImportProfile creates a profile from a YAML manifest and installs its
// mods. The game version pin wins over the target version when both are set.
// Mods that cannot be added are skipped and returned as warnings.
func (o *Orchestrator) ImportProfile(ctx context.Context, sess *Session, data []byte, r *notify.Reporter) ([]string, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", domain.ErrInvalidArgument, err)
	}

	spec := m.TargetVersion
	if m.GameVersion != "" {
		spec = m.GameVersion
	}
	p, err := o.CreateProfile(ctx, sess, m.Name, spec, m.AllowExperimental)
	if err != nil {
		return nil, err
	}
	r.Running("Profile %s created, adding %d mods...", p.Name, len(m.Mods))

	var warnings []string
	for _, mod := range m.Mods {
		if _, err := o.AddMod(ctx, sess, mod.Name, mod.Version, r); err != nil {
			if errors.Is(err, context.Canceled) {
				return warnings, err
			}
			o.log.Warnw("Skipping mod from manifest", zap.String("mod", mod.Name), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("%s %s: %v", mod.Name, mod.Version, err))
		}
	}
	return warnings, nil
}
