package factorio

import (
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode"

	"factorio-server-manager/domain"

	"golang.org/x/net/html"
)

const downloadLinkPrefix = "/get-download/"

// ArchiveLink is one /get-download/<version>/<build>/<platform> entry.
type ArchiveLink struct {
	Path     string // <version>/<build>/<platform>
	Version  string
	Flavor   domain.BuildFlavor
	Platform domain.Platform
}

// ParseArchiveLinks walks the archive page and returns every download link
// whose build and platform are known. Duplicates are dropped.
func ParseArchiveLinks(r io.Reader) ([]ArchiveLink, error) {
	z := html.NewTokenizer(r)
	seen := make(map[string]bool)
	var links []ArchiveLink

	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return links, nil
			}
			return links, fmt.Errorf("%w: parsing archive page: %v", domain.ErrRemoteAPI, z.Err())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					if link, ok := parseDownloadHref(string(val)); ok && !seen[link.Path] {
						seen[link.Path] = true
						links = append(links, link)
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

func parseDownloadHref(href string) (ArchiveLink, bool) {
	if !strings.HasPrefix(href, downloadLinkPrefix) {
		return ArchiveLink{}, false
	}
	path := strings.TrimPrefix(href, downloadLinkPrefix)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	if len(parts) != 3 {
		return ArchiveLink{}, false
	}
	flavor, ok := domain.ParseBuildFlavor(parts[1])
	if !ok {
		return ArchiveLink{}, false
	}
	platform, ok := domain.ParsePlatform(parts[2])
	if !ok {
		return ArchiveLink{}, false
	}
	return ArchiveLink{Path: path, Version: parts[0], Flavor: flavor, Platform: platform}, true
}

// FileNameFromDisposition extracts the filename parameter of a
// Content-Disposition header.
func FileNameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(header); err == nil && params["filename"] != "" {
		return params["filename"]
	}
	_, after, found := strings.Cut(header, "filename=")
	if !found {
		return ""
	}
	name, _, _ := strings.Cut(after, ";")
	return strings.Trim(strings.TrimSpace(name), `"`)
}

// InferExtension keeps the alphabetic suffixes of a file name:
// factorio_headless_x64_1.1.104.tar.xz gives tar.xz.
func InferExtension(fileName string) string {
	_, rest, found := strings.Cut(fileName, ".")
	if !found {
		return ""
	}
	var parts []string
	for _, p := range strings.Split(rest, ".") {
		if p != "" && strings.IndexFunc(p, func(r rune) bool { return !unicode.IsLetter(r) }) < 0 {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}
