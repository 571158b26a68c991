package audio

import "errors"

var (
	ErrNoDevice          = errors.New("audio: no audio device available")
	ErrInvalidDevice     = errors.New("audio: invalid device ID")
	ErrNoInputConfig     = errors.New("audio: device does not support input")
	ErrNoOutputConfig    = errors.New("audio: device does not support output")
	ErrUnsupportedFormat = errors.New("audio: unsupported wav format")
	ErrClosed            = errors.New("audio: stream closed")
)
