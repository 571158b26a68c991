package track

import "fmt"

// UpdateKind selects which attribute an Update changes.
type UpdateKind uint8

const (
	UpdateRename UpdateKind = iota
	UpdateGain
	UpdatePan
	UpdateMute
	UpdateSolo
	UpdateMonitor
	UpdateRecord
)

var updateNames = [...]string{"rename", "gain", "pan", "mute", "solo", "monitor", "record"}

func (k UpdateKind) String() string {
	if int(k) < len(updateNames) {
		return updateNames[k]
	}
	return fmt.Sprintf("UpdateKind(%d)", k)
}

// Update is a single attribute change. Build one with Rename, Gain, Pan,
// Mute, Solo, Monitor or Record.
type Update struct {
	Kind  UpdateKind
	Name  string
	Value float32
	Flag  bool
}

func Rename(name string) Update { return Update{Kind: UpdateRename, Name: name} }
func Gain(v float32) Update { return Update{Kind: UpdateGain, Value: v} }
func Pan(v float32) Update { return Update{Kind: UpdatePan, Value: v} }
func Mute(on bool) Update { return Update{Kind: UpdateMute, Flag: on} }
func Solo(on bool) Update { return Update{Kind: UpdateSolo, Flag: on} }
func Monitor(on bool) Update { return Update{Kind: UpdateMonitor, Flag: on} }
func Record(on bool) Update { return Update{Kind: UpdateRecord, Flag: on} }

func (u Update) String() string {
	switch u.Kind {
	case UpdateRename:
		return fmt.Sprintf("rename(%q)", u.Name)
	case UpdateGain, UpdatePan:
		return fmt.Sprintf("%s(%.3f)", u.Kind, u.Value)
	}
	return fmt.Sprintf("%s(%t)", u.Kind, u.Flag)
}
