// SPDX-License-Identifier: MIT
//
// Package build carries the metadata linked into the binary with -ldflags:
//
//	go build -ldflags "-X trackmix/pkg/build.buildName=trackmix \
//		-X trackmix/pkg/build.buildVersion=0.3.0 ..."
//
// Development builds run without them and report "dev" values.
package build

import (
	"errors"
	"fmt"
)

// ErrMissingFlag is wrapped once per build flag that was not linked in.
var ErrMissingFlag = errors.New("build flag not set")

// Info describes the running binary.
type Info struct {
	Name    string
	Version string
	Commit  string
	Time    string
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
)

var info = devInfo()

func devInfo() Info {
	return Info{Name: "trackmix", Version: "dev", Commit: "none", Time: "unknown"}
}

// Initialize copies the linked flags into the build info. Every flag that
// is missing keeps its development value and is reported in the returned
// error, so callers can warn and carry on.
func Initialize() error {
	info = devInfo()

	var errs []error
	set := func(dst *string, val, name string) {
		if val == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingFlag, name))
			return
		}
		*dst = val
	}
	set(&info.Name, buildName, "buildName")
	set(&info.Version, buildVersion, "buildVersion")
	set(&info.Commit, buildCommit, "buildCommit")
	set(&info.Time, buildTime, "buildTime")

	return errors.Join(errs...)
}

// GetBuildFlags returns the build information. Call Initialize first.
func GetBuildFlags() Info {
	return info
}
