// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     version
// Description: Central version management for emubench components
// Author:      Mike Stoffels
// Created:     2025-12-06
// License:     MIT
// ============================================================================

package version

import "fmt"

// Version constants for emubench components
const (
	// Platform version
	Platform = "1.2.0"

	// Component versions
	Orchestrator = "1.2.0"
	Cleanup      = "1.1.0"
	Bridge       = "1.0.0"
	History      = "1.0.0"
)

// Build information, injected via ldflags at build time
var (
	Commit = "none"
	Date   = "unknown"
)

// ComponentVersion returns the version for a given component name
func ComponentVersion(name string) string {
	switch name {
	case "orchestrator":
		return Orchestrator
	case "cleanup":
		return Cleanup
	case "bridge":
		return Bridge
	case "history":
		return History
	default:
		return Platform
	}
}

// String returns the full version string including build information
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Platform, Commit, Date)
}
