package sandbox

import "errors"

var (
	// ErrBuild is returned when the image definition is invalid or the build fails.
	ErrBuild = errors.New("sandbox image build failed")
	// ErrStart is returned when a sandbox cannot be started.
	ErrStart = errors.New("sandbox start failed")
	// ErrNotRunning is returned by operations that need an active sandbox.
	ErrNotRunning = errors.New("sandbox is not running")
	// ErrReconnect is returned when a descriptor does not name a running sandbox.
	ErrReconnect = errors.New("sandbox reconnect failed")
	// ErrCopy is returned when a file cannot be copied into the sandbox.
	ErrCopy = errors.New("copy into sandbox failed")
	// ErrExtract is returned when a file cannot be copied out of the sandbox.
	ErrExtract = errors.New("copy out of sandbox failed")

	// ErrImageNotFound is returned by engines when an image reference is unknown.
	ErrImageNotFound = errors.New("image not found")
)
