// Package settings persists the therapy settings bundle as a JSON file.
//
// The file is a JSON object keyed by mode name, each holding a
// field-name to value map. It is written by the operator (per-mode save)
// and by inbound device syncs. Every write replaces the file atomically,
// and reads merge the stored values over the factory defaults so callers
// always see a complete bundle.
package settings
