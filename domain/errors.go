package domain

import "errors"

var (
	// ErrNotFound is returned when a profile, mod, release or file does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNameConflict is returned when a profile name is already taken.
	ErrNameConflict = errors.New("name already in use")

	// ErrMissingArgument is returned when a command lacks a required argument.
	ErrMissingArgument = errors.New("missing argument")

	// ErrInvalidArgument is returned for malformed or unknown command input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoActiveProfile is returned by profile-scoped operations when the
	// session has no active profile.
	ErrNoActiveProfile = errors.New("no profile is currently selected, create or swap to a profile first")

	// ErrNoMatchingVersion is returned when no game release satisfies a version request.
	ErrNoMatchingVersion = errors.New("no matching version")

	// ErrNoCompatibleModRelease is returned when a mod has no release for the profile's game version.
	ErrNoCompatibleModRelease = errors.New("no compatible mod release")

	// ErrRemoteAPI is returned for non-2xx or undecodable responses from remote services.
	ErrRemoteAPI = errors.New("remote api error")

	// ErrProcessAlreadyRunning is returned when starting while the server slot is taken.
	ErrProcessAlreadyRunning = errors.New("server already running")

	// ErrProcessNotRunning is returned when an operation needs a running server.
	ErrProcessNotRunning = errors.New("no server running")

	// ErrExtractionFailed is returned when an archive could not be unpacked.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrDownloadIncomplete is returned when a download ends short or fails verification.
	ErrDownloadIncomplete = errors.New("download incomplete")

	// ErrGameNotInstalled is returned when a process needs a game release that has not been fetched.
	ErrGameNotInstalled = errors.New("game has not been downloaded")

	// ErrProcessFailed is returned when a game process exits with an error.
	ErrProcessFailed = errors.New("game process failed")

	// ErrUnauthorized is returned when an author may not run a command.
	ErrUnauthorized = errors.New("not authorized")

	// ErrForbidden is returned when an auth token is missing, wrong or expired.
	ErrForbidden = errors.New("invalid or expired token")
)
