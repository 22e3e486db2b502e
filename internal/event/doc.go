// Package event provides the event record model, persisted monitoring state and
// set-based change detection.
//
// Each record carries a deterministic identity key derived from its normalized
// title and date text (or from an explicit source id), so the same listing entry
// maps to the same key across runs regardless of description edits.
package event
