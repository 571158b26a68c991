package project

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"trackmix/internal/audio"
	"trackmix/internal/track"

	"golang.org/x/sync/errgroup"
)

// Snapshot converts the live state to its persisted form.
func (p *Project) Snapshot() (*Snapshot, error) {
	var s *Snapshot
	err := p.guard("snapshot", func() error {
		s = p.snapshotLocked()
		return nil
	})
	return s, err
}

func (p *Project) snapshotLocked() *Snapshot {
	tracks := p.registry.Tracks()
	s := &Snapshot{ID: p.id, Tracks: make([]TrackRecord, 0, len(tracks))}
	for _, t := range tracks {
		s.Tracks = append(s.Tracks, toRecord(t))
	}
	return s
}

func toRecord(t *track.Track) TrackRecord {
	info := t.Info()
	rec := TrackRecord{
		Name:   info.Name,
		Kind:   info.Kind,
		Source: info.Source,
		Attrs:  t.Attributes(),
	}
	switch {
	case info.Kind == track.MasterOutput:
		rec.Source = audio.KindNone
	case info.Source == audio.KindFile:
		rec.Path = info.Origin
	case info.Source == audio.KindDevice, info.Offline && info.Origin != "":
		// Offline tracks keep their device so a later load can rebind it.
		rec.Source = audio.KindDevice
		rec.Device = info.Origin
	}
	return rec
}

// SaveProject writes the snapshot to dir/mixer_state.mix, creating dir.
// The file is replaced atomically.
func (p *Project) SaveProject(dir string) error {
	return p.guard("save project", func() error {
		data, err := p.snapshotLocked().MarshalBinary()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create project directory %s: %w", dir, err)
		}

		path := filepath.Join(dir, SnapshotFile)
		tmp, err := os.CreateTemp(dir, SnapshotFile+".*")
		if err != nil {
			return fmt.Errorf("failed to save %s: %w", path, err)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("failed to save %s: %w", path, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("failed to save %s: %w", path, err)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("failed to save %s: %w", path, err)
		}
		p.log.Infof("saved %d tracks to %s", len(p.registry.Tracks()), path)
		return nil
	})
}

// ReadSnapshot decodes dir/mixer_state.mix without touching any project.
func ReadSnapshot(dir string) (*Snapshot, error) {
	path := filepath.Join(dir, SnapshotFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	s, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return s, nil
}

// LoadProject replaces every input track with the ones saved in dir and
// restores the master attributes. Streams are left stopped. If anything
// fails the current state is left as it was.
func (p *Project) LoadProject(dir string) error {
	return p.guard("load project", func() error {
		s, err := ReadSnapshot(dir)
		if err != nil {
			return err
		}

		tracks, master, err := p.buildTracks(s)
		if err != nil {
			return err
		}

		old, err := p.registry.Replace(tracks)
		if err != nil {
			closeTracks(tracks)
			return err
		}

		// Past the point of no return: tear down what was there.
		for _, t := range old {
			if err := t.Close(); err != nil {
				p.log.Warnf("closing %s: %v", t.Name(), err)
			}
			if p.meter != nil {
				p.meter.Remove(t.Name())
			}
		}
		m := p.registry.Master()
		if err := m.Stop(); err != nil {
			p.log.Warnf("stopping master: %v", err)
		}
		if master != nil {
			m.Restore(master.Attrs)
		}
		for _, t := range tracks {
			p.attachMeter(t.Name(), t.Stream())
		}
		p.id = s.ID
		p.log.Infof("loaded %d tracks from %s", len(tracks), dir)
		return nil
	})
}

// buildTracks opens every source the snapshot names, concurrently. On
// error everything opened so far is closed again.
func (p *Project) buildTracks(s *Snapshot) ([]*track.Track, *TrackRecord, error) {
	var (
		master  *TrackRecord
		records []TrackRecord
	)
	seen := make(map[string]bool, len(s.Tracks))
	for i := range s.Tracks {
		rec := &s.Tracks[i]
		if rec.Kind == track.MasterOutput {
			master = rec
			continue
		}
		if rec.Name == track.MasterName || seen[rec.Name] {
			return nil, nil, fmt.Errorf("%w: duplicate track %q", ErrBadSnapshot, rec.Name)
		}
		seen[rec.Name] = true
		records = append(records, *rec)
	}

	tracks := make([]*track.Track, len(records))
	g, ctx := errgroup.WithContext(context.Background())
	for i, rec := range records {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t, err := p.buildTrack(rec)
			if err != nil {
				return fmt.Errorf("track %q: %w", rec.Name, err)
			}
			tracks[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeTracks(tracks)
		return nil, nil, err
	}
	return tracks, master, nil
}

func (p *Project) buildTrack(rec TrackRecord) (*track.Track, error) {
	rc := p.recordConfig()

	switch rec.Source {
	case audio.KindFile:
		src, err := p.openFile(rec.Path, p.cfg.Audio.RingSeconds)
		if err != nil {
			return nil, err
		}
		return track.New(rec.Name, src, "", rec.Attrs, rc), nil

	case audio.KindDevice:
		dev, ok := audio.FindByName(p.devices, rec.Device)
		if !ok {
			p.log.Warnf("device %q for track %q not found, restoring it offline", rec.Device, rec.Name)
			return track.New(rec.Name, nil, rec.Device, rec.Attrs, rc), nil
		}
		src, err := p.openCapture(dev, p.inputStreamConfig())
		if err != nil {
			p.log.Warnf("device %q for track %q unusable (%v), restoring it offline", rec.Device, rec.Name, err)
			return track.New(rec.Name, nil, rec.Device, rec.Attrs, rc), nil
		}
		return track.New(rec.Name, src, "", rec.Attrs, rc), nil
	}
	return track.New(rec.Name, nil, "", rec.Attrs, rc), nil
}

func closeTracks(tracks []*track.Track) {
	for _, t := range tracks {
		if t != nil {
			t.Close()
		}
	}
}

func fileTrackName(path string) string {
	base := filepath.Base(path)
	if name := strings.TrimSuffix(base, filepath.Ext(base)); name != "" {
		return name
	}
	return base
}
