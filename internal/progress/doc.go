// Package progress carries batch and listing milestones from the scraper to
// pluggable sinks. Emit never blocks the scraping workers; a background
// goroutine batches events and fans them out.
package progress
