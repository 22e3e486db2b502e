// Package cli implements the command-line interface for events-monitor.
//
// The cli package provides the Cobra-based CLI: a one-shot check, a scheduled
// run mode with an optional status server, secret encryption for the config
// file and inspection of persisted state (text/JSON/iCalendar). It wires
// config, storage, scraper, notifier and pipeline packages together and maps
// check outcomes onto process exit codes.
package cli
