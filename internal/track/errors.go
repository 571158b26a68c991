package track

import "errors"

var (
	ErrTrackNotFound = errors.New("track: not found")
	ErrTrackExists   = errors.New("track: name already in use")
	ErrMasterTrack   = errors.New("track: operation not allowed on the master track")
	ErrInvalidName   = errors.New("track: invalid name")
	ErrInvalidValue  = errors.New("track: invalid value")
	ErrNoSource      = errors.New("track: no source bound")
)
