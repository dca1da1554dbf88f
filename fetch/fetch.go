// Package fetch downloads game releases and mod files and lays them out on
// disk.
package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"factorio-server-manager/db"
	"factorio-server-manager/domain"
	"factorio-server-manager/factorio"
	"factorio-server-manager/logger"
	"factorio-server-manager/metrics"
	"factorio-server-manager/notify"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const progressStep = 1 << 20

// Remote opens download streams.
type Remote interface {
	DownloadGame(ctx context.Context, remotePath string) (*factorio.Download, error)
	DownloadMod(ctx context.Context, downloadURL string) (*factorio.Download, error)
}

// InstallRecorder persists the install path of a fetched release.
type InstallRecorder interface {
	SetInstallPath(ctx context.Context, release *db.GameRelease, path string) error
}

// Fetcher places artifacts under binDir (game builds) and profile
// directories (mods).
type Fetcher struct {
	remote   Remote
	installs InstallRecorder
	binDir   string
	log      *zap.SugaredLogger
	// group collapses concurrent fetches of one version onto a single
	// download into binDir.
	group singleflight.Group
}

// New returns a Fetcher.
func New(remote Remote, installs InstallRecorder, binDir string, log *zap.SugaredLogger) *Fetcher {
	return &Fetcher{remote: remote, installs: installs, binDir: binDir, log: logger.OrNop(log)}
}

// FetchGame downloads and extracts release unless it is already installed,
// and returns the install path.
func (f *Fetcher) FetchGame(ctx context.Context, release *db.GameRelease, r *notify.Reporter) (string, error) {
	if release.Installed() {
		r.Success("Game version %s already installed", release.Version)
		return *release.LocalInstallPath, nil
	}

	path, err, shared := f.group.Do(release.Version, func() (any, error) {
		return f.fetchGame(ctx, release, r)
	})
	if err != nil {
		return "", err
	}
	dest := path.(string)
	if shared && !release.Installed() {
		if err := f.installs.SetInstallPath(ctx, release, dest); err != nil {
			return "", err
		}
		r.Success("Game version **v%s** installed", release.Version)
	}
	return dest, nil
}

func (f *Fetcher) fetchGame(ctx context.Context, release *db.GameRelease, r *notify.Reporter) (string, error) {
	dest := filepath.Join(f.binDir, release.Version)
	if _, err := os.Stat(filepath.Join(dest, domain.ExecutableRelativePath)); err == nil {
		// Extracted by an earlier call holding a stale record.
		if err := f.installs.SetInstallPath(ctx, release, dest); err != nil {
			return "", err
		}
		r.Success("Game version %s already installed", release.Version)
		return dest, nil
	}

	r.Running("Starting download for **v%s**...", release.Version)
	dl, err := f.remote.DownloadGame(ctx, release.RemotePath)
	if err != nil {
		metrics.RecordDownload("game", 0, false)
		return "", err
	}
	defer dl.Body.Close()

	ext := factorio.InferExtension(dl.FileName)
	if ext == "" {
		return "", fmt.Errorf("%w: could not read archive name from response headers", domain.ErrRemoteAPI)
	}
	if err := os.MkdirAll(f.binDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", f.binDir, err)
	}

	archive := dest + "." + ext
	written, err := writeStream(archive, dl, func(n int64) {
		r.Running("Downloading **v%s**: %s", release.Version, progress(n, dl.Size))
	})
	metrics.RecordDownload("game", written, err == nil)
	if err != nil {
		os.Remove(archive)
		return "", err
	}
	f.log.Infow("Game archive downloaded", zap.String("version", release.Version), zap.String("archive", archive), zap.Int64("bytes", written))

	r.Running("Download completed, extracting **v%s**...", release.Version)
	if err := Extract(ctx, archive, dest, ext); err != nil {
		f.log.Errorw("Extraction failed", zap.String("archive", archive), zap.Error(err))
		os.RemoveAll(dest)
		os.Remove(archive)
		return "", err
	}
	if err := os.Remove(archive); err != nil {
		f.log.Warnw("Failed to remove archive", zap.String("archive", archive), zap.Error(err))
	}

	if err := f.installs.SetInstallPath(ctx, release, dest); err != nil {
		return "", err
	}
	r.Success("Game version **v%s** installed", release.Version)
	return dest, nil
}

// writeStream copies dl into path, calling onProgress every MiB. A body
// shorter than the announced size is ErrDownloadIncomplete.
func writeStream(path string, dl *factorio.Download, onProgress func(int64)) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer out.Close()

	pr := &progressReader{reader: dl.Body, onProgress: onProgress, next: progressStep}
	written, err := io.Copy(out, pr)
	if err != nil {
		return written, fmt.Errorf("%w: %s after %d bytes: %v", domain.ErrDownloadIncomplete, filepath.Base(path), written, err)
	}
	if dl.Size >= 0 && written != dl.Size {
		return written, fmt.Errorf("%w: %s got %d of %d bytes", domain.ErrDownloadIncomplete, filepath.Base(path), written, dl.Size)
	}
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("failed to close %s: %w", path, err)
	}
	return written, nil
}

type progressReader struct {
	reader     io.Reader
	read       int64
	next       int64
	onProgress func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.reader.Read(b)
	p.read += int64(n)
	if p.onProgress != nil && p.read >= p.next {
		p.onProgress(p.read)
		p.next = p.read + progressStep
	}
	return n, err
}

func progress(n, total int64) string {
	if total > 0 {
		return fmt.Sprintf("%s / %s (%d%%)", notify.FileSize(n), notify.FileSize(total), n*100/total)
	}
	return notify.FileSize(n)
}
