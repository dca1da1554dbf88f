package domain

import (
	"fmt"
	"strings"
)

// BuildFlavor is the kind of game build published by the download site.
type BuildFlavor string

const (
	BuildAlpha    BuildFlavor = "alpha"
	BuildHeadless BuildFlavor = "headless"
)

// Platform is an OS/arch target of a game build.
type Platform string

const (
	PlatformWin64       Platform = "win64"
	PlatformWin32       Platform = "win32"
	PlatformWin64Manual Platform = "win64-manual"
	PlatformWin32Manual Platform = "win32-manual"
	PlatformLinux64     Platform = "linux64"
	PlatformLinux32     Platform = "linux32"
	PlatformOSX         Platform = "osx"
)

var buildFlavors = map[string]BuildFlavor{
	"alpha":    BuildAlpha,
	"headless": BuildHeadless,
}

var platforms = map[string]Platform{
	"win64":        PlatformWin64,
	"win32":        PlatformWin32,
	"win64-manual": PlatformWin64Manual,
	"win32-manual": PlatformWin32Manual,
	"linux64":      PlatformLinux64,
	"linux32":      PlatformLinux32,
	"osx":          PlatformOSX,
}

// platformAliases are the short names accepted from users.
var platformAliases = map[string]Platform{
	"win":   PlatformWin64,
	"linux": PlatformLinux64,
	"mac":   PlatformOSX,
}

// ParseBuildFlavor accepts the download-site spelling of a build flavor.
func ParseBuildFlavor(s string) (BuildFlavor, bool) {
	f, ok := buildFlavors[strings.ToLower(s)]
	return f, ok
}

// ParsePlatform accepts the download-site spelling of a platform.
func ParsePlatform(s string) (Platform, bool) {
	p, ok := platforms[strings.ToLower(s)]
	return p, ok
}

// ParseUserPlatform is ParsePlatform plus the short aliases users type.
func ParseUserPlatform(s string) (Platform, error) {
	if p, ok := ParsePlatform(s); ok {
		return p, nil
	}
	if p, ok := platformAliases[strings.ToLower(s)]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: platform %q, possible values are win|win64|win32|linux|linux64|linux32|osx", ErrInvalidArgument, s)
}

// ParseUserBuildFlavor is ParseBuildFlavor wrapped in ErrInvalidArgument.
func ParseUserBuildFlavor(s string) (BuildFlavor, error) {
	if f, ok := ParseBuildFlavor(s); ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: build %q, possible values are alpha|headless", ErrInvalidArgument, s)
}

// Server-side layout of a profile directory and a game install.
const (
	ServerBuildFlavor = BuildHeadless
	ServerPlatform    = PlatformLinux64

	ExecutableRelativePath = "factorio/bin/x64/factorio"
	DefaultConfigDir       = "factorio/data"
	ModDirectory           = "mods"
	ModListFile            = "mod-list.json"
	ModSettingsFile        = "mod-settings.dat"
	DefaultSaveName        = "map.zip"
	ServerLogFile          = "server-logs"
	MapGenerationLogFile   = "map-generation-logs"
)

// ConfigFiles are the per-profile override files a profile may carry.
var ConfigFiles = []string{"server-settings", "map-gen-settings", "map-settings"}

// IsConfigFile reports whether name (without .json) is a known config file.
func IsConfigFile(name string) bool {
	for _, c := range ConfigFiles {
		if c == name {
			return true
		}
	}
	return false
}
