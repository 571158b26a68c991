package project

import "errors"

var (
	ErrStateUnavailable   = errors.New("project: state unavailable after an earlier failure")
	ErrBadSnapshot        = errors.New("project: malformed snapshot")
	ErrSnapshotVersion    = errors.New("project: unsupported snapshot version")
	ErrInvalidDeviceIndex = errors.New("project: invalid device index")
)
