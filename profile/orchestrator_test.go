package profile

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"factorio-server-manager/catalog"
	"factorio-server-manager/db"
	"factorio-server-manager/domain"
	"factorio-server-manager/factorio"
	"factorio-server-manager/fetch"
	"factorio-server-manager/process"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const fakeServer = `#!/bin/sh
case "$1" in
--create) : > "$2"; exit 0 ;;
--start-server) exec sleep 30 ;;
esac
exit 2
`

// fakeRemote serves the download site and the mod portal from memory.
type fakeRemote struct {
	game        []byte
	details     map[string]*factorio.ModDetail
	files       map[string][]byte
	detailCalls int
}

func (f *fakeRemote) LatestReleases(context.Context) (*factorio.LatestReleases, error) {
	return &factorio.LatestReleases{
		Stable:       factorio.Versions{Alpha: "0.17.79", Headless: "0.17.79"},
		Experimental: factorio.Versions{Alpha: "0.18.0", Headless: "0.18.0"},
	}, nil
}

func (f *fakeRemote) ArchiveLinks(context.Context) ([]factorio.ArchiveLink, error) {
	var links []factorio.ArchiveLink
	for _, path := range []string{
		"0.17.50/headless/linux64",
		"0.17.79/headless/linux64",
		"0.17.79/alpha/win64",
		"0.18.0/headless/linux64",
	} {
		parts := strings.Split(path, "/")
		flavor, _ := domain.ParseBuildFlavor(parts[1])
		platform, _ := domain.ParsePlatform(parts[2])
		links = append(links, factorio.ArchiveLink{Path: path, Version: parts[0], Flavor: flavor, Platform: platform})
	}
	return links, nil
}

func (f *fakeRemote) ModPage(context.Context, int, int) (*factorio.ModListPage, error) {
	return &factorio.ModListPage{}, nil
}

func (f *fakeRemote) ModDetail(_ context.Context, name string) (*factorio.ModDetail, error) {
	f.detailCalls++
	d, ok := f.details[name]
	if !ok {
		return nil, fmt.Errorf("%w: received 404", domain.ErrRemoteAPI)
	}
	return d, nil
}

func (f *fakeRemote) DownloadGame(context.Context, string) (*factorio.Download, error) {
	return &factorio.Download{Body: io.NopCloser(bytes.NewReader(f.game)), FileName: "factorio_headless_x64.tar.gz", Size: int64(len(f.game))}, nil
}

func (f *fakeRemote) DownloadMod(_ context.Context, url string) (*factorio.Download, error) {
	data, ok := f.files[url]
	if !ok {
		return nil, fmt.Errorf("%w: received 404", domain.ErrRemoteAPI)
	}
	return &factorio.Download{Body: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

func (f *fakeRemote) ClientDownloadURL(remotePath string) string {
	return "https://www.factorio.com/get-download/" + remotePath
}

func (f *fakeRemote) addRelease(mod, v, gameVersion string, at time.Time) {
	d, ok := f.details[mod]
	if !ok {
		d = &factorio.ModDetail{Name: mod}
		f.details[mod] = d
	}
	url := fmt.Sprintf("/download/%s/%s", mod, v)
	d.Releases = append(d.Releases, factorio.ReleaseEntry{
		DownloadURL: url,
		FileName:    fmt.Sprintf("%s_%s.zip", mod, v),
		InfoJSON:    json.RawMessage(fmt.Sprintf(`{"factorio_version":%q}`, gameVersion)),
		ReleasedAt:  at,
		Version:     v,
	})
	f.files[url] = []byte(mod + "-" + v)
}

func gameArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: domain.ExecutableRelativePath, Mode: 0o755, Size: int64(len(fakeServer))}))
	_, err := tw.Write([]byte(fakeServer))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

type harness struct {
	o      *Orchestrator
	remote *fakeRemote
	sess   *Session
	ctx    context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	remote := &fakeRemote{game: gameArchive(t), details: map[string]*factorio.ModDetail{}, files: map[string][]byte{}}
	jan := time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)
	remote.addRelease("foo", "1.0.0", "0.17", jan)
	remote.addRelease("foo", "2.0.0", "0.18", jan.AddDate(0, 5, 0))
	remote.addRelease("bar", "0.3.1", "0.17", jan)

	store := catalog.New(conn, remote, nil)
	_, err = store.SyncGameReleases(ctx, nil)
	require.NoError(t, err)
	for _, name := range []string{"foo", "bar"} {
		require.NoError(t, conn.Create(&db.Mod{Name: name, Title: strings.ToUpper(name)}).Error)
	}

	data := t.TempDir()
	supervisor := process.NewSupervisor(100*time.Millisecond, nil)
	t.Cleanup(func() { supervisor.Stop() })
	o := New(Options{
		Catalog:     store,
		Fetcher:     fetch.New(remote, store, filepath.Join(data, "bin"), nil),
		Supervisor:  supervisor,
		Remote:      remote,
		ProfilesDir: filepath.Join(data, "profiles"),
		PublicURL:   "http://example.test/",
	})
	return &harness{o: o, remote: remote, sess: o.Sessions().Get("test"), ctx: ctx}
}

func (h *harness) create(t *testing.T, name, spec string) db.Profile {
	t.Helper()
	p, err := h.o.CreateProfile(h.ctx, h.sess, name, spec, false)
	require.NoError(t, err)
	return p
}

func TestCreateProfile(t *testing.T) {
	h := newHarness(t)

	p := h.create(t, "p", "0.17")
	assert.Equal(t, "0.17.79", p.GameRelease.Version)
	assert.Equal(t, "0.17", p.TargetVersion)
	assert.DirExists(t, h.o.Dir("p"))
	active, _ := h.sess.Active()
	assert.Equal(t, "p", active)

	_, err := h.o.CreateProfile(h.ctx, h.sess, "p", "0.17", false)
	assert.ErrorIs(t, err, domain.ErrNameConflict)

	latest := h.create(t, "latest", "")
	assert.Equal(t, "0.17.79", latest.TargetVersion)

	_, err = h.o.CreateProfile(h.ctx, h.sess, "../escape", "0.17", false)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCreateProfileExperimentalPolicy(t *testing.T) {
	h := newHarness(t)

	// An explicit version matches experimental releases too.
	p, err := h.o.CreateProfile(h.ctx, h.sess, "pinned", "0.18", false)
	require.NoError(t, err)
	assert.Equal(t, "0.18.0", p.GameRelease.Version)

	p, err = h.o.CreateProfile(h.ctx, h.sess, "stable", "", false)
	require.NoError(t, err)
	assert.Equal(t, "0.17.79", p.GameRelease.Version)

	p, err = h.o.CreateProfile(h.ctx, h.sess, "exp", "", true)
	require.NoError(t, err)
	assert.Equal(t, "0.18.0", p.GameRelease.Version)
}

func TestProfileScopedOperationsNeedActiveProfile(t *testing.T) {
	h := newHarness(t)
	other := h.o.Sessions().Get("other")
	h.create(t, "p", "0.17")

	_, err := h.o.ListMods(h.ctx, other)
	assert.ErrorIs(t, err, domain.ErrNoActiveProfile)
	assert.ErrorIs(t, h.o.Build(h.ctx, other, nil), domain.ErrNoActiveProfile)

	_, err = h.o.SwapProfile(h.ctx, other, "p")
	require.NoError(t, err)
	_, err = h.o.ListMods(h.ctx, other)
	assert.NoError(t, err)

	_, err = h.o.SwapProfile(h.ctx, other, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddModRejectsSecondRelease(t *testing.T) {
	h := newHarness(t)
	h.create(t, "p", "0.17")

	rel, err := h.o.AddMod(h.ctx, h.sess, "foo", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", rel.Version, "latest release compatible with 0.17")
	assert.Equal(t, 1, h.remote.detailCalls, "releases synced on miss")

	_, err = h.o.AddMod(h.ctx, h.sess, "foo", "2.0.0", nil)
	assert.ErrorIs(t, err, domain.ErrNameConflict)

	mods, err := h.o.ListMods(h.ctx, h.sess)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "1.0.0", mods[0].Version)
	assert.Equal(t, "foo", mods[0].Mod.Name)

	_, err = h.o.AddMod(h.ctx, h.sess, "unknown", "", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemoveAndUpdateMod(t *testing.T) {
	h := newHarness(t)
	h.create(t, "p", "0.17")

	_, err := h.o.AddMod(h.ctx, h.sess, "foo", "", nil)
	require.NoError(t, err)

	old, latest, err := h.o.UpdateMod(h.ctx, h.sess, "foo", nil)
	require.NoError(t, err)
	assert.Equal(t, old.ID, latest.ID, "nothing newer for 0.17")

	h.remote.addRelease("foo", "1.1.0", "0.17", time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC))
	old, latest, err = h.o.UpdateMod(h.ctx, h.sess, "foo", nil)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", old.Version)
	assert.Equal(t, "1.1.0", latest.Version)

	removed, err := h.o.RemoveMod(h.ctx, h.sess, "foo")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", removed.Version)

	_, err = h.o.RemoveMod(h.ctx, h.sess, "foo")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rel, err := h.o.AddMod(h.ctx, h.sess, "foo", "2.0.0", nil)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", rel.Version)
}

func TestBuildStartStop(t *testing.T) {
	h := newHarness(t)
	h.create(t, "p", "0.17")
	_, err := h.o.AddMod(h.ctx, h.sess, "bar", "", nil)
	require.NoError(t, err)

	require.NoError(t, h.o.Build(h.ctx, h.sess, nil))

	p, err := h.o.Get(h.ctx, "p")
	require.NoError(t, err)
	require.True(t, p.GameRelease.Installed())
	dir := h.o.Dir("p")
	assert.FileExists(t, filepath.Join(dir, domain.ModDirectory, "bar_0.3.1.zip"))
	assert.FileExists(t, filepath.Join(dir, domain.ModDirectory, domain.ModListFile))
	assert.FileExists(t, filepath.Join(dir, domain.DefaultSaveName))

	require.NoError(t, h.o.Start(h.ctx, h.sess, "", nil))
	assert.Equal(t, process.State{Running: true, Profile: "p"}, h.o.Supervisor().Status())

	assert.True(t, h.o.Stop())
	assert.Equal(t, process.State{}, h.o.Supervisor().Status())
	assert.False(t, h.o.Stop())
}

func TestBuildWithoutModsSucceeds(t *testing.T) {
	h := newHarness(t)
	h.create(t, "p", "0.17")

	require.NoError(t, h.o.Build(h.ctx, h.sess, nil))
	raw, err := os.ReadFile(filepath.Join(h.o.Dir("p"), domain.ModDirectory, domain.ModListFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"mods":[]}`, string(raw))
}

func TestStartBeforeBuild(t *testing.T) {
	h := newHarness(t)
	h.create(t, "p", "0.17")

	err := h.o.Start(h.ctx, h.sess, "", nil)
	assert.ErrorIs(t, err, domain.ErrGameNotInstalled)

	err = h.o.Start(h.ctx, h.sess, "other.zip", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemoveProfileCascade(t *testing.T) {
	h := newHarness(t)
	h.create(t, "p", "0.17")
	_, err := h.o.AddMod(h.ctx, h.sess, "bar", "", nil)
	require.NoError(t, err)
	require.NoError(t, h.o.Build(h.ctx, h.sess, nil))
	require.NoError(t, h.o.Start(h.ctx, h.sess, "", nil))

	require.NoError(t, h.o.RemoveProfile(h.ctx, "p"))

	assert.False(t, h.o.Supervisor().Status().Running)
	assert.NoDirExists(t, h.o.Dir("p"))
	_, err = h.o.Get(h.ctx, "p")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, ok := h.sess.Active()
	assert.False(t, ok)

	var n int64
	require.NoError(t, h.o.Catalog().DB().Unscoped().Model(&db.ModInstallation{}).Count(&n).Error)
	assert.Zero(t, n)

	// the name is free again
	h.create(t, "p", "0.17")
}

func TestRemoveProfileLeavesOtherServerRunning(t *testing.T) {
	h := newHarness(t)
	h.create(t, "runner", "0.17")
	require.NoError(t, h.o.Build(h.ctx, h.sess, nil))
	require.NoError(t, h.o.Start(h.ctx, h.sess, "", nil))
	h.create(t, "other", "0.17")

	require.NoError(t, h.o.RemoveProfile(h.ctx, "other"))
	assert.Equal(t, "runner", h.o.Supervisor().Status().Profile)
}

func TestCopyProfile(t *testing.T) {
	h := newHarness(t)
	h.create(t, "src", "0.17")
	_, err := h.o.AddMod(h.ctx, h.sess, "foo", "", nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(h.o.Dir("src"), "server-settings.json"), []byte(`{"name":"x"}`), 0o644))

	dst, err := h.o.CopyProfile(h.ctx, h.sess, "dst")
	require.NoError(t, err)
	assert.Equal(t, "0.17.79", dst.GameRelease.Version)
	active, _ := h.sess.Active()
	assert.Equal(t, "dst", active)
	assert.FileExists(t, filepath.Join(h.o.Dir("dst"), "server-settings.json"))

	mods, err := h.o.ListMods(h.ctx, h.sess)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "foo", mods[0].Mod.Name)

	_, err = h.o.CopyProfile(h.ctx, h.sess, "src")
	assert.ErrorIs(t, err, domain.ErrNameConflict)
}

func TestUpdateProfile(t *testing.T) {
	h := newHarness(t)
	h.create(t, "p", "0.17")
	require.NoError(t, h.o.Build(h.ctx, h.sess, nil))

	_, changed, err := h.o.UpdateProfile(h.ctx, h.sess, "0.17.79", nil)
	require.NoError(t, err)
	assert.False(t, changed)

	p, changed, err := h.o.UpdateProfile(h.ctx, h.sess, "0.17.50", nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "0.17.50", p.GameRelease.Version)
	assert.NoDirExists(t, filepath.Join(h.o.Dir("p"), domain.ModDirectory))

	allow := true
	p, changed, err = h.o.UpdateProfile(h.ctx, h.sess, "", &allow)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "0.18.0", p.GameRelease.Version)
	assert.True(t, p.AllowExperimental)
}

func TestAuthTokenLifecycle(t *testing.T) {
	h := newHarness(t)
	p := h.create(t, "p", "0.17")
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	h.o.now = func() time.Time { return now }

	token, err := h.o.GenerateAuthToken(h.ctx, &p)
	require.NoError(t, err)
	assert.Len(t, token, tokenLength)
	for _, c := range token {
		assert.Contains(t, tokenAlphabet, string(c))
	}

	now = now.Add(30 * time.Minute)
	again, err := h.o.GenerateAuthToken(h.ctx, &p)
	require.NoError(t, err)
	assert.Equal(t, token, again, "reused while valid")
	assert.Equal(t, now.Add(TokenValidity), p.TokenExpiry.UTC(), "expiry refreshed")

	_, err = h.o.ValidateToken(h.ctx, "p", token)
	assert.NoError(t, err)
	_, err = h.o.ValidateToken(h.ctx, "p", "wrong")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.o.ValidateToken(h.ctx, "missing", token)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	now = now.Add(2 * TokenValidity)
	_, err = h.o.ValidateToken(h.ctx, "p", token)
	assert.ErrorIs(t, err, domain.ErrForbidden, "expired")
	fresh, err := h.o.GenerateAuthToken(h.ctx, &p)
	require.NoError(t, err)
	assert.NotEqual(t, token, fresh)

	_, err = h.o.RevokeToken(h.ctx, h.sess)
	require.NoError(t, err)
	_, err = h.o.ValidateToken(h.ctx, "p", fresh)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestLinks(t *testing.T) {
	h := newHarness(t)
	h.create(t, "p", "0.17")

	edit, err := h.o.EditLink(h.ctx, h.sess)
	require.NoError(t, err)
	assert.Regexp(t, `^http://example\.test/edit/p/[A-Za-z0-9]{32}$`, edit)

	client, err := h.o.ClientLink(h.ctx, h.sess, domain.PlatformWin64, domain.BuildAlpha)
	require.NoError(t, err)
	assert.Equal(t, "https://www.factorio.com/get-download/0.17.79/alpha/win64", client)

	_, err = h.o.ClientLink(h.ctx, h.sess, domain.PlatformOSX, domain.BuildAlpha)
	assert.ErrorIs(t, err, domain.ErrNoMatchingVersion)

	_, err = h.o.ModPackLink(h.ctx, h.sess)
	assert.ErrorIs(t, err, domain.ErrNotFound, "nothing built yet")

	_, err = h.o.AddMod(h.ctx, h.sess, "bar", "", nil)
	require.NoError(t, err)
	require.NoError(t, h.o.Build(h.ctx, h.sess, nil))
	pack, err := h.o.ModPackLink(h.ctx, h.sess)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(pack, "/p-modpack.zip"))
	assert.FileExists(t, filepath.Join(h.o.Dir("p"), "p-modpack.zip"))
}

func TestFiles(t *testing.T) {
	h := newHarness(t)
	h.create(t, "p", "0.17")
	dir := h.o.Dir("p")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "save1.zip"), []byte("12345"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, domain.ModDirectory), 0o755))

	files, err := h.o.ListFiles(h.ctx, h.sess)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "save1.zip", files[0].Name)
	assert.Equal(t, int64(5), files[0].Size)
	assert.Contains(t, files[0].URL, "/files/p/")

	path, err := h.o.FilePath("p", "/save1.zip")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "save1.zip"), path)
	_, err = h.o.FilePath("p", "../../test.db")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	assert.ErrorIs(t, h.o.RemoveFile(h.ctx, h.sess, domain.ModDirectory), domain.ErrNotFound)
	require.NoError(t, h.o.RemoveFile(h.ctx, h.sess, "save1.zip"))
	assert.NoFileExists(t, filepath.Join(dir, "save1.zip"))
}

func TestConfigs(t *testing.T) {
	h := newHarness(t)
	p := h.create(t, "p", "0.17")

	configs, err := h.o.Configs(p)
	require.NoError(t, err)
	assert.Len(t, configs, len(domain.ConfigFiles))
	assert.JSONEq(t, `{}`, string(configs["server-settings"]))

	require.NoError(t, h.o.WriteConfig(p, "server-settings", []byte(`{"name":"my server"}`)))
	configs, err = h.o.Configs(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"my server"}`, string(configs["server-settings"]))

	assert.ErrorIs(t, h.o.WriteConfig(p, "server-settings", []byte(`{`)), domain.ErrInvalidArgument)
	assert.ErrorIs(t, h.o.WriteConfig(p, "passwd", []byte(`{}`)), domain.ErrInvalidArgument)
}

func TestExportImport(t *testing.T) {
	h := newHarness(t)
	h.create(t, "p", "0.17")
	_, err := h.o.AddMod(h.ctx, h.sess, "foo", "", nil)
	require.NoError(t, err)

	data, err := h.o.ExportProfile(h.ctx, "p")
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, yaml.Unmarshal(data, &m))
	assert.Equal(t, Manifest{
		Name:          "p",
		TargetVersion: "0.17",
		GameVersion:   "0.17.79",
		Mods:          []ManifestMod{{Name: "foo", Version: "1.0.0"}},
	}, m)

	require.NoError(t, h.o.RemoveProfile(h.ctx, "p"))
	m.Mods = append(m.Mods, ManifestMod{Name: "unknown", Version: "1.0.0"})
	data, err = yaml.Marshal(m)
	require.NoError(t, err)
	warnings, err := h.o.ImportProfile(h.ctx, h.sess, data, nil)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "unknown")

	info, err := h.o.Info(h.ctx, h.sess)
	require.NoError(t, err)
	assert.Equal(t, "p", info.Profile.Name)
	assert.Equal(t, "0.17.79", info.Profile.GameRelease.Version)
	require.Len(t, info.Mods, 1)
	assert.Equal(t, "1.0.0", info.Mods[0].Version)

	_, err = h.o.ImportProfile(h.ctx, h.sess, []byte("name: [broken"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSessionsForget(t *testing.T) {
	s := NewSessions()
	a, b := s.Get("a"), s.Get("b")
	a.SetActive("p")
	b.SetActive("q")
	assert.Same(t, a, s.Get("a"))

	s.Forget("p")
	_, ok := a.Active()
	assert.False(t, ok)
	name, _ := b.Active()
	assert.Equal(t, "q", name)
}
