package fetch

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"factorio-server-manager/db"
	"factorio-server-manager/domain"
	"factorio-server-manager/factorio"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	game     []byte
	gameName string
	short    bool
	mods     map[string][]byte
	calls    int
	mu       sync.Mutex
}

func (f *fakeRemote) DownloadGame(_ context.Context, _ string) (*factorio.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	size := int64(len(f.game))
	if f.short {
		size += 10
	}
	return &factorio.Download{Body: io.NopCloser(bytes.NewReader(f.game)), FileName: f.gameName, Size: size}, nil
}

func (f *fakeRemote) DownloadMod(_ context.Context, url string) (*factorio.Download, error) {
	f.calls++
	data, ok := f.mods[url]
	if !ok {
		return nil, errors.Join(domain.ErrRemoteAPI, errors.New("404 Not Found"))
	}
	return &factorio.Download{Body: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

type fakeInstalls struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeInstalls) SetInstallPath(_ context.Context, release *db.GameRelease, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	release.LocalInstallPath = &path
	return nil
}

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: int64(len(body))}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestFetchGameExtractsAndRecords(t *testing.T) {
	binDir := t.TempDir()
	remote := &fakeRemote{
		game:     tarGz(t, map[string]string{"factorio/bin/x64/factorio": "#!/bin/sh\n"}),
		gameName: "factorio_headless_x64_0.17.79.tar.gz",
	}
	installs := &fakeInstalls{}
	f := New(remote, installs, binDir, nil)
	release := &db.GameRelease{Version: "0.17.79", RemotePath: "0.17.79/headless/linux64"}

	path, err := f.FetchGame(context.Background(), release, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(binDir, "0.17.79"), path)
	assert.FileExists(t, filepath.Join(path, "factorio", "bin", "x64", "factorio"))
	assert.NoFileExists(t, path+".tar.gz")
	assert.Equal(t, []string{path}, installs.paths)

	// already installed: no second download
	again, err := f.FetchGame(context.Background(), release, nil)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, 1, remote.calls)
}

func TestFetchGameConcurrentSameVersion(t *testing.T) {
	binDir := t.TempDir()
	remote := &fakeRemote{
		game:     tarGz(t, map[string]string{domain.ExecutableRelativePath: "#!/bin/sh\n"}),
		gameName: "factorio_headless_x64_0.18.0.tar.gz",
	}
	installs := &fakeInstalls{}
	f := New(remote, installs, binDir, nil)

	const callers = 4
	paths := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// each caller holds its own, not yet installed, copy of the row
			release := &db.GameRelease{Version: "0.18.0", RemotePath: "0.18.0/headless/linux64"}
			paths[i], errs[i] = f.FetchGame(context.Background(), release, nil)
		}(i)
	}
	wg.Wait()

	want := filepath.Join(binDir, "0.18.0")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, want, paths[i])
	}
	assert.Equal(t, 1, remote.calls)
	assert.Len(t, installs.paths, callers)
	assert.FileExists(t, filepath.Join(want, domain.ExecutableRelativePath))
}

func TestFetchGameFailures(t *testing.T) {
	t.Run("short body", func(t *testing.T) {
		remote := &fakeRemote{game: []byte("partial"), gameName: "a.tar.gz", short: true}
		installs := &fakeInstalls{}
		release := &db.GameRelease{Version: "1.0.0"}
		_, err := New(remote, installs, t.TempDir(), nil).FetchGame(context.Background(), release, nil)
		assert.ErrorIs(t, err, domain.ErrDownloadIncomplete)
		assert.False(t, release.Installed())
		assert.Empty(t, installs.paths)
	})

	t.Run("corrupt archive", func(t *testing.T) {
		binDir := t.TempDir()
		remote := &fakeRemote{game: []byte("not a tarball"), gameName: "a.tar.gz"}
		installs := &fakeInstalls{}
		release := &db.GameRelease{Version: "1.0.0"}
		_, err := New(remote, installs, binDir, nil).FetchGame(context.Background(), release, nil)
		assert.ErrorIs(t, err, domain.ErrExtractionFailed)
		assert.False(t, release.Installed())
		assert.NoDirExists(t, filepath.Join(binDir, "1.0.0"))
	})

	t.Run("no file name", func(t *testing.T) {
		remote := &fakeRemote{game: []byte("x")}
		_, err := New(remote, &fakeInstalls{}, t.TempDir(), nil).FetchGame(context.Background(), &db.GameRelease{Version: "1.0.0"}, nil)
		assert.ErrorIs(t, err, domain.ErrRemoteAPI)
	})
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	out, err := os.Create(archive)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	w, err := zw.Create("../escape.txt")
	require.NoError(t, err)
	_, _ = w.Write([]byte("x"))
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	err = Extract(context.Background(), archive, filepath.Join(dir, "dest"), "zip")
	assert.ErrorIs(t, err, domain.ErrExtractionFailed)
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}

func TestExtractUnsupported(t *testing.T) {
	err := Extract(context.Background(), "x.rar", t.TempDir(), "rar")
	assert.ErrorIs(t, err, domain.ErrExtractionFailed)
}

func sum(data []byte) string {
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:])
}

func TestFetchModsRebuildsDirectory(t *testing.T) {
	profileDir := t.TempDir()
	modsDir := filepath.Join(profileDir, domain.ModDirectory)
	require.NoError(t, os.MkdirAll(modsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modsDir, "stale_1.0.0.zip"), []byte("old"), 0o644))

	remote := &fakeRemote{mods: map[string][]byte{
		"/download/foo/1": []byte("foo-data"),
		"/download/bar/1": []byte("bar-data"),
	}}
	releases := []db.ModRelease{
		{DownloadURL: "/download/foo/1", FileName: "foo_1.0.0.zip", SHA1: sum([]byte("foo-data")), Mod: db.Mod{Name: "foo"}},
		{DownloadURL: "/download/bar/1", FileName: "bar_2.0.0.zip", Mod: db.Mod{Name: "bar"}},
	}

	require.NoError(t, New(remote, nil, "", nil).FetchMods(context.Background(), profileDir, releases, nil))

	assert.NoFileExists(t, filepath.Join(modsDir, "stale_1.0.0.zip"))
	assert.FileExists(t, filepath.Join(modsDir, "foo_1.0.0.zip"))
	assert.FileExists(t, filepath.Join(modsDir, "bar_2.0.0.zip"))

	raw, err := os.ReadFile(filepath.Join(modsDir, domain.ModListFile))
	require.NoError(t, err)
	var list ModList
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Equal(t, []ModListEntry{{Name: "foo", Enabled: true}, {Name: "bar", Enabled: true}}, list.Mods)
}

func TestFetchModsEmptySet(t *testing.T) {
	profileDir := t.TempDir()
	require.NoError(t, New(&fakeRemote{}, nil, "", nil).FetchMods(context.Background(), profileDir, nil, nil))

	raw, err := os.ReadFile(filepath.Join(profileDir, domain.ModDirectory, domain.ModListFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"mods":[]}`, string(raw))
}

func TestFetchModsFailures(t *testing.T) {
	t.Run("missing download", func(t *testing.T) {
		releases := []db.ModRelease{{DownloadURL: "/download/gone/1", FileName: "gone_1.0.0.zip", Mod: db.Mod{Name: "gone"}}}
		err := New(&fakeRemote{}, nil, "", nil).FetchMods(context.Background(), t.TempDir(), releases, nil)
		assert.ErrorIs(t, err, domain.ErrRemoteAPI)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		remote := &fakeRemote{mods: map[string][]byte{"/download/foo/1": []byte("tampered")}}
		releases := []db.ModRelease{{DownloadURL: "/download/foo/1", FileName: "foo_1.0.0.zip", SHA1: sum([]byte("original")), Mod: db.Mod{Name: "foo"}}}
		profileDir := t.TempDir()
		err := New(remote, nil, "", nil).FetchMods(context.Background(), profileDir, releases, nil)
		assert.ErrorIs(t, err, domain.ErrDownloadIncomplete)
		assert.NoFileExists(t, filepath.Join(profileDir, domain.ModDirectory, "foo_1.0.0.zip"))
	})

	t.Run("file name escaping mods dir", func(t *testing.T) {
		releases := []db.ModRelease{{DownloadURL: "/x", FileName: "../evil.zip", Mod: db.Mod{Name: "evil"}}}
		err := New(&fakeRemote{}, nil, "", nil).FetchMods(context.Background(), t.TempDir(), releases, nil)
		assert.ErrorIs(t, err, domain.ErrRemoteAPI)
	})
}

func TestBuildModPack(t *testing.T) {
	profileDir := t.TempDir()
	modsDir := filepath.Join(profileDir, domain.ModDirectory)
	require.NoError(t, os.MkdirAll(modsDir, 0o755))
	for name, body := range map[string]string{
		"foo_1.0.0.zip":        "foo",
		domain.ModListFile:     `{"mods":[]}`,
		domain.ModSettingsFile: "secret",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(modsDir, name), []byte(body), 0o644))
	}

	path, err := BuildModPack(profileDir, "p")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(profileDir, "p-modpack.zip"), path)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"foo_1.0.0.zip", domain.ModListFile}, names)
}

func TestBuildModPackWithoutMods(t *testing.T) {
	_, err := BuildModPack(t.TempDir(), "p")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
