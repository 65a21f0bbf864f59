// Package listing defines the vehicle listing record, its validation and
// field coercion rules, the failure taxonomy shared by the scraper, and the
// small interfaces the orchestrator depends on.
package listing
