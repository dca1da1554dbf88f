package factorio

import (
	"bytes"
	"encoding/json"
	"time"
)

// Versions lists the latest version of each build kind.
type Versions struct {
	Alpha    string `json:"alpha"`
	Demo     string `json:"demo"`
	Headless string `json:"headless"`
}

// LatestReleases is the payload of /api/latest-releases.
type LatestReleases struct {
	Experimental Versions `json:"experimental"`
	Stable       Versions `json:"stable"`
}

// Pagination describes a mod listing page.
type Pagination struct {
	Count     int `json:"count"`
	Page      int `json:"page"`
	PageCount int `json:"page_count"`
	PageSize  int `json:"page_size"`
}

// ModListPage is one page of /api/mods.
type ModListPage struct {
	Pagination Pagination  `json:"pagination"`
	Results    []ModResult `json:"results"`
}

// ModResult is a mod as listed by /api/mods.
type ModResult struct {
	Name           string        `json:"name"`
	Title          string        `json:"title"`
	Owner          string        `json:"owner"`
	Summary        string        `json:"summary"`
	DownloadsCount int           `json:"downloads_count"`
	Category       *string       `json:"category"`
	Score          float64       `json:"score"`
	LatestRelease  *ReleaseEntry `json:"latest_release"`
}

// ModDetail is the payload of /api/mods/<name>/full.
type ModDetail struct {
	Name     string         `json:"name"`
	Releases []ReleaseEntry `json:"releases"`
}

// ReleaseEntry is one release of a mod.
type ReleaseEntry struct {
	DownloadURL string          `json:"download_url"`
	FileName    string          `json:"file_name"`
	InfoJSON    json.RawMessage `json:"info_json"`
	ReleasedAt  time.Time       `json:"released_at"`
	Version     string          `json:"version"`
	SHA1        string          `json:"sha1"`
}

type infoJSON struct {
	FactorioVersion string   `json:"factorio_version"`
	Dependencies    []string `json:"dependencies"`
}

// FactorioVersion is the game version the release targets, empty when the
// info payload does not carry one.
func (r ReleaseEntry) FactorioVersion() string {
	var info infoJSON
	if err := json.Unmarshal(r.InfoJSON, &info); err != nil {
		return ""
	}
	return info.FactorioVersion
}

// Dependencies lists the raw dependency strings of the release.
func (r ReleaseEntry) Dependencies() []string {
	var info infoJSON
	if err := json.Unmarshal(r.InfoJSON, &info); err != nil {
		return nil
	}
	return info.Dependencies
}

// InfoString is the info payload in compact form, stable across fetches.
func (r ReleaseEntry) InfoString() string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, r.InfoJSON); err != nil {
		return string(r.InfoJSON)
	}
	return buf.String()
}
