package fetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"factorio-server-manager/db"
	"factorio-server-manager/domain"
	"factorio-server-manager/metrics"
	"factorio-server-manager/notify"

	"go.uber.org/zap"
)

// ModList is the manifest the game reads from the mods directory.
type ModList struct {
	Mods []ModListEntry `json:"mods"`
}

// ModListEntry is one manifest line.
type ModListEntry struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// FetchMods rebuilds profileDir/mods from scratch with the given releases
// and writes the manifest. Releases must carry their Mod.
func (f *Fetcher) FetchMods(ctx context.Context, profileDir string, releases []db.ModRelease, r *notify.Reporter) error {
	modsDir := filepath.Join(profileDir, domain.ModDirectory)
	if err := os.RemoveAll(modsDir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", modsDir, err)
	}
	if err := os.MkdirAll(modsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", modsDir, err)
	}

	list := ModList{Mods: make([]ModListEntry, 0, len(releases))}
	for i, rel := range releases {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.Running("Downloading mod %d of %d: %s", i+1, len(releases), rel.FileName)
		if err := f.fetchMod(ctx, modsDir, rel); err != nil {
			f.log.Errorw("Mod download failed", zap.String("file", rel.FileName), zap.Error(err))
			return err
		}
		list.Mods = append(list.Mods, ModListEntry{Name: rel.Mod.Name, Enabled: true})
	}

	if err := WriteModList(modsDir, list); err != nil {
		return err
	}
	r.Success("Downloaded %d mods", len(releases))
	return nil
}

func (f *Fetcher) fetchMod(ctx context.Context, modsDir string, rel db.ModRelease) error {
	target, err := safeJoin(modsDir, rel.FileName)
	if err != nil || filepath.Dir(target) != filepath.Clean(modsDir) {
		return fmt.Errorf("%w: bad mod file name %q", domain.ErrRemoteAPI, rel.FileName)
	}

	dl, err := f.remote.DownloadMod(ctx, rel.DownloadURL)
	if err != nil {
		metrics.RecordDownload("mod", 0, false)
		return err
	}
	defer dl.Body.Close()

	written, err := writeStream(target, dl, nil)
	metrics.RecordDownload("mod", written, err == nil)
	if err != nil {
		return err
	}

	if rel.SHA1 == "" {
		return nil
	}
	sum, err := calculateSHA1(target)
	if err != nil {
		return err
	}
	if !strings.EqualFold(sum, rel.SHA1) {
		os.Remove(target)
		return fmt.Errorf("%w: checksum mismatch for %s", domain.ErrDownloadIncomplete, rel.FileName)
	}
	return nil
}

// WriteModList writes mod-list.json into modsDir.
func WriteModList(modsDir string, list ModList) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(modsDir, domain.ModListFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func calculateSHA1(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha1.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
