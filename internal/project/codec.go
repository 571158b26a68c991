package project

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"trackmix/internal/audio"
	"trackmix/internal/track"

	"github.com/google/uuid"
)

// SnapshotFile is the file name used inside a project directory.
const SnapshotFile = "mixer_state.mix"

const (
	snapshotMagic   = "TMIX"
	snapshotVersion = 1
	maxRecords      = 4096
	maxSnapshotSize = 16 << 20
)

const (
	flagMute uint8 = 1 << iota
	flagSolo
	flagMonitor
	flagRecord
)

// TrackRecord is the persisted form of one track. Live handles are never
// stored: file tracks keep their path, capture tracks their device name.
type TrackRecord struct {
	Name   string
	Kind   track.Kind
	Source audio.SourceKind
	Path   string
	Device string
	Attrs  track.Attributes
}

// Snapshot is the persisted form of a project.
type Snapshot struct {
	ID     uuid.UUID
	Tracks []TrackRecord
}

/*
MarshalBinary encodes the snapshot (BigEndian, strings are a uint16 length
followed by UTF-8 bytes):

	magic    [4]byte  "TMIX"
	version  uint16
	id       [16]byte project UUID
	count    uint32
	count records:
	  name    string
	  kind    uint8   0 input, 1 master
	  source  uint8   0 none, 1 device, 2 file
	  path    string
	  device  string
	  gain    float32
	  pan     float32
	  flags   uint8   mute=1 solo=2 monitor=4 record=8
*/
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	if len(s.Tracks) > maxRecords {
		return nil, fmt.Errorf("%w: %d tracks exceed the limit of %d", ErrBadSnapshot, len(s.Tracks), maxRecords)
	}

	buf := make([]byte, 0, 26+len(s.Tracks)*64)
	buf = append(buf, snapshotMagic...)
	buf = binary.BigEndian.AppendUint16(buf, snapshotVersion)
	buf = append(buf, s.ID[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s.Tracks)))

	var err error
	for _, rec := range s.Tracks {
		if buf, err = appendString(buf, rec.Name); err != nil {
			return nil, err
		}
		buf = append(buf, byte(rec.Kind), byte(rec.Source))
		if buf, err = appendString(buf, rec.Path); err != nil {
			return nil, err
		}
		if buf, err = appendString(buf, rec.Device); err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(rec.Attrs.Gain))
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(rec.Attrs.Pan))
		buf = append(buf, packFlags(rec.Attrs))
	}
	return buf, nil
}

// UnmarshalBinary decodes data into s. s is only modified on success.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	d := decoder{data: data}

	if magic := d.bytes(4); d.err == nil && string(magic) != snapshotMagic {
		return fmt.Errorf("%w: bad magic %q", ErrBadSnapshot, magic)
	}
	if v := d.u16(); d.err == nil && v != snapshotVersion {
		return fmt.Errorf("%w: %d", ErrSnapshotVersion, v)
	}
	var id uuid.UUID
	copy(id[:], d.bytes(16))
	count := d.u32()
	if d.err != nil {
		return d.err
	}
	if count > maxRecords {
		return fmt.Errorf("%w: %d records", ErrBadSnapshot, count)
	}

	tracks := make([]TrackRecord, 0, count)
	for range count {
		var rec TrackRecord
		rec.Name = d.str()
		rec.Kind = track.Kind(d.u8())
		rec.Source = audio.SourceKind(d.u8())
		rec.Path = d.str()
		rec.Device = d.str()
		rec.Attrs.Gain = math.Float32frombits(d.u32())
		rec.Attrs.Pan = math.Float32frombits(d.u32())
		unpackFlags(d.u8(), &rec.Attrs)
		if d.err != nil {
			return d.err
		}
		if rec.Kind > track.MasterOutput || rec.Source > audio.KindFile {
			return fmt.Errorf("%w: record %q has kind %d source %d", ErrBadSnapshot, rec.Name, rec.Kind, rec.Source)
		}
		tracks = append(tracks, rec)
	}
	if len(d.data) != d.off {
		return fmt.Errorf("%w: %d trailing bytes", ErrBadSnapshot, len(d.data)-d.off)
	}

	s.ID = id
	s.Tracks = tracks
	return nil
}

// Encode writes the binary form of s to w.
func Encode(w io.Writer, s *Snapshot) error {
	data, err := s.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Decode reads a whole snapshot from r.
func Decode(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSnapshotSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxSnapshotSize {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrBadSnapshot, maxSnapshotSize)
	}
	var s Snapshot
	if err := s.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &s, nil
}

func packFlags(a track.Attributes) uint8 {
	var f uint8
	if a.Mute {
		f |= flagMute
	}
	if a.Solo {
		f |= flagSolo
	}
	if a.Monitor {
		f |= flagMonitor
	}
	if a.Record {
		f |= flagRecord
	}
	return f
}

func unpackFlags(f uint8, a *track.Attributes) {
	a.Mute = f&flagMute != 0
	a.Solo = f&flagSolo != 0
	a.Monitor = f&flagMonitor != 0
	a.Record = f&flagRecord != 0
}

func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: string of %d bytes", ErrBadSnapshot, len(s))
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

// decoder reads big endian fields, remembering the first short read.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.data)-d.off < n {
		d.err = fmt.Errorf("%w: truncated at byte %d", ErrBadSnapshot, d.off)
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.bytes(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.bytes(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.bytes(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) str() string {
	n := d.u16()
	return string(d.bytes(int(n)))
}
