// buildinfo.go - build information for the version banner
//
// (c) 2016 Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.
package main

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// BuildInfo contains information about the build.
type BuildInfo struct {
	*debug.BuildInfo
}

// ReadBuildInfo returns build information for the running binary.
func ReadBuildInfo() (*BuildInfo, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, false
	}
	return &BuildInfo{info}, true
}

// String returns a human-readable representation of build information.
func (bi *BuildInfo) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "main: %s\n", bi.Main.Path)
	fmt.Fprintf(&sb, "Go Toolchain: %s\n", bi.GoVersion)

	var revision, arch, os string
	var modified bool

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			fmt.Fprintf(&sb, "Build Time: %s\n", s.Value)
		case "vcs.modified":
			modified = s.Value == "true"
		case "GOARCH":
			arch = s.Value
		case "GOOS":
			os = s.Value
		}
	}

	fmt.Fprintf(&sb, "GO: %s-%s\n", os, arch)
	fmt.Fprintf(&sb, "Revision: %s", revision)
	if modified {
		sb.WriteString("+dirty")
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Version: %s\n", bi.Main.Version)

	return sb.String()
}
