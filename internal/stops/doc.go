// Package stops holds the domain types shared by the unification engine:
// stop identifiers and their station/platform structure, stops, clusters,
// dependent relationships and the error taxonomy reported to callers.
package stops
