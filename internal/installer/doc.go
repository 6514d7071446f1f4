// Package installer materializes a ranked candidate into a running-ready
// Installation: package-manager install, VCS clone, or container build,
// deduplicated per (name, version) and rolled back whole on failure
// (spec §4.11).
package installer
