package fetch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"factorio-server-manager/domain"

	"github.com/klauspost/compress/zip"
)

// ModPackName is the archive name offered to players for a profile.
func ModPackName(profileName string) string {
	return profileName + "-modpack.zip"
}

// BuildModPack zips profileDir/mods into profileDir/<name>-modpack.zip and
// returns the archive path. Per-server mod settings are left out.
func BuildModPack(profileDir, profileName string) (string, error) {
	modsDir := filepath.Join(profileDir, domain.ModDirectory)
	entries, err := os.ReadDir(modsDir)
	if err != nil {
		return "", fmt.Errorf("%w: mods directory of %s, run build first", domain.ErrNotFound, profileName)
	}

	target := filepath.Join(profileDir, ModPackName(profileName))
	tmp := target + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	zw := zip.NewWriter(out)
	for _, e := range entries {
		if e.IsDir() || e.Name() == domain.ModSettingsFile {
			continue
		}
		if err := addFile(zw, filepath.Join(modsDir, e.Name()), e.Name()); err != nil {
			zw.Close()
			out.Close()
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", err
	}
	return target, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	// mod files are already compressed
	method := zip.Store
	if filepath.Ext(name) != ".zip" {
		method = zip.Deflate
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
