package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"factorio-server-manager/db"
	"factorio-server-manager/domain"

	"go.uber.org/zap"
)

// File is a top-level file of a profile directory.
type File struct {
	Name string
	Size int64
	URL  string
}

// profileFile resolves a top-level file of a profile directory.
func (o *Orchestrator) profileFile(name, file string) (string, error) {
	if file == "" || file != filepath.Base(file) || file == "." || file == ".." {
		return "", fmt.Errorf("%w: file name %q", domain.ErrInvalidArgument, file)
	}
	path := filepath.Join(o.Dir(name), file)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: file %s in profile %s", domain.ErrNotFound, file, name)
	}
	return path, nil
}

// FilePath resolves a downloadable file of a profile for the link server.
func (o *Orchestrator) FilePath(name, file string) (string, error) {
	return o.profileFile(name, strings.TrimPrefix(file, "/"))
}

// ListFiles lists the top-level files of the active profile with download
// links.
func (o *Orchestrator) ListFiles(ctx context.Context, sess *Session) ([]File, error) {
	p, token, err := o.activeWithToken(ctx, sess)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(o.Dir(p.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory of %s: %w", p.Name, err)
	}

	var files []File
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{Name: e.Name(), Size: info.Size(), URL: o.fileLink(p, token, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// RemoveFile deletes a top-level file of the active profile.
func (o *Orchestrator) RemoveFile(ctx context.Context, sess *Session, file string) error {
	p, err := o.Active(ctx, sess)
	if err != nil {
		return err
	}
	path, err := o.profileFile(p.Name, file)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", file, err)
	}
	o.log.Infow("Profile file removed", zap.String("profile", p.Name), zap.String("file", file))
	return nil
}

// Configs returns the effective config files of p: the profile override
// when present, else the example shipped with the installed game.
func (o *Orchestrator) Configs(p db.Profile) (map[string]json.RawMessage, error) {
	t := o.target(p, "")
	configs := make(map[string]json.RawMessage, len(domain.ConfigFiles))
	for _, name := range domain.ConfigFiles {
		data, err := os.ReadFile(t.ConfigPath(name))
		if errors.Is(err, os.ErrNotExist) {
			configs[name] = json.RawMessage("{}")
			continue
		}
		if err != nil {
			return nil, err
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: %s.json is not valid JSON", domain.ErrInvalidArgument, name)
		}
		configs[name] = data
	}
	return configs, nil
}

// WriteConfig stores a profile override of one config file.
func (o *Orchestrator) WriteConfig(p db.Profile, name string, data []byte) error {
	if !domain.IsConfigFile(name) {
		return fmt.Errorf("%w: unknown config %q, expected one of %s", domain.ErrInvalidArgument, name, strings.Join(domain.ConfigFiles, ", "))
	}
	if !json.Valid(data) {
		return fmt.Errorf("%w: %s is not valid JSON", domain.ErrInvalidArgument, name)
	}
	path := filepath.Join(o.Dir(p.Name), name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	o.log.Infow("Config updated", zap.String("profile", p.Name), zap.String("config", name))
	return nil
}

// copyProfileFiles copies the mods directory and config overrides of src
// into dst.
func copyProfileFiles(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, name := range domain.ConfigFiles {
		err := copyFile(filepath.Join(src, name+".json"), filepath.Join(dst, name+".json"))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	modsSrc := filepath.Join(src, domain.ModDirectory)
	entries, err := os.ReadDir(modsSrc)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	modsDst := filepath.Join(dst, domain.ModDirectory)
	if err := os.MkdirAll(modsDst, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := copyFile(filepath.Join(modsSrc, e.Name()), filepath.Join(modsDst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
