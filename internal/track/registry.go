package track

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"trackmix/internal/audio"
)

// Registry is the concurrent name to Track directory. The master track is
// created with the registry and can be neither removed nor renamed.
type Registry struct {
	mu     sync.RWMutex
	tracks map[string]*Track
	master *Track
}

func NewRegistry(master *Track) *Registry {
	return &Registry{
		tracks: map[string]*Track{MasterName: master},
		master: master,
	}
}

func (r *Registry) Master() *Track { return r.master }

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Add inserts t under its current name.
func (r *Registry) Add(t *Track) error {
	name := t.Name()
	if err := validName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tracks[name]; ok {
		return fmt.Errorf("%w: %s", ErrTrackExists, name)
	}
	r.tracks[name] = t
	return nil
}

// Remove takes the track out of the registry, stops it and closes its
// stream. The track is removed even if closing fails.
func (r *Registry) Remove(name string) error {
	if name == MasterName {
		return ErrMasterTrack
	}

	r.mu.Lock()
	t, ok := r.tracks[name]
	if ok {
		delete(r.tracks, name)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, name)
	}
	return t.Close()
}

func (r *Registry) Get(name string) (*Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tracks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, name)
	}
	return t, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracks)
}

// Tracks returns every track, master included, ordered by name.
func (r *Registry) Tracks() []*Track {
	r.mu.RLock()
	names := make([]string, 0, len(r.tracks))
	for name := range r.tracks {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]*Track, len(names))
	for i, name := range names {
		out[i] = r.tracks[name]
	}
	r.mu.RUnlock()
	return out
}

// List returns a snapshot of every track ordered by name.
func (r *Registry) List() []Info {
	tracks := r.Tracks()
	infos := make([]Info, len(tracks))
	for i, t := range tracks {
		infos[i] = t.Info()
	}
	return infos
}

// Update applies u to the named track. Rename moves the live track to the
// new key under the write lock.
func (r *Registry) Update(name string, u Update) error {
	if u.Kind == UpdateRename {
		return r.rename(name, u.Name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tracks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, name)
	}
	if err := t.apply(u); err != nil {
		return fmt.Errorf("update %s %s: %w", name, u, err)
	}
	return nil
}

func (r *Registry) rename(from, to string) error {
	if from == MasterName || to == MasterName {
		return fmt.Errorf("%w: rename %s to %s", ErrMasterTrack, from, to)
	}
	if err := validName(to); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tracks[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, from)
	}
	if from == to {
		return nil
	}
	if _, taken := r.tracks[to]; taken {
		return fmt.Errorf("%w: %s", ErrTrackExists, to)
	}
	delete(r.tracks, from)
	t.rename(to)
	r.tracks[to] = t
	return nil
}

// NextName returns the first free name of the form prefix-N, N from 1.
func (r *Registry) NextName(prefix string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := 1; ; i++ {
		name := prefix + "-" + strconv.Itoa(i)
		if _, ok := r.tracks[name]; !ok {
			return name
		}
	}
}

// Replace swaps every input track for tracks and returns the ones it
// removed. The master track is kept. Names in tracks must be unique.
func (r *Registry) Replace(tracks []*Track) ([]*Track, error) {
	next := make(map[string]*Track, len(tracks)+1)
	next[MasterName] = r.master
	for _, t := range tracks {
		name := t.Name()
		if err := validName(name); err != nil {
			return nil, err
		}
		if _, dup := next[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrTrackExists, name)
		}
		next[name] = t
	}

	r.mu.Lock()
	old := make([]*Track, 0, len(r.tracks)-1)
	for name, t := range r.tracks {
		if name != MasterName {
			old = append(old, t)
		}
	}
	r.tracks = next
	r.mu.Unlock()
	return old, nil
}

// SwapMasterStream rebinds the master track to a new playback stream and
// returns the previous one, holding the registry lock only for the swap.
func (r *Registry) SwapMasterStream(s audio.Stream) audio.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.master.swapStream(s)
}
