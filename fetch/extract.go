package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"factorio-server-manager/domain"
	"factorio-server-manager/notify"

	"github.com/klauspost/compress/zip"
)

// OutputTail is how much captured tool output an error carries.
const OutputTail = 1500

// Extract unpacks archive into dest. tar archives go through the system tar,
// zip archives are read in-process.
func Extract(ctx context.Context, archive, dest, ext string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", domain.ErrExtractionFailed, dest, err)
	}

	switch ext {
	case "tar.xz":
		return runTar(ctx, "-xJf", archive, dest)
	case "tar.gz", "tgz":
		return runTar(ctx, "-xzf", archive, dest)
	case "zip":
		return extractZip(archive, dest)
	default:
		return fmt.Errorf("%w: unsupported archive type %q", domain.ErrExtractionFailed, ext)
	}
}

func runTar(ctx context.Context, flag, archive, dest string) error {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "tar", flag, archive, "-C", dest)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v\nstdout: %s\nstderr: %s", domain.ErrExtractionFailed, err,
			notify.Tail(stdout.String(), OutputTail), notify.Tail(stderr.String(), OutputTail))
	}
	return nil
}

func extractZip(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", domain.ErrExtractionFailed, archive, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := extractZipEntry(f, dest); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, dest string) error {
	target, err := safeJoin(dest, f.Name)
	if err != nil {
		return err
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s in archive: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return out.Close()
}

// safeJoin rejects entries that would land outside dest.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.Clean(name))
	root := filepath.Clean(dest)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal detected: %s", name)
	}
	return target, nil
}
