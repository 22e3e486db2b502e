// Package storage persists the last observed event state of each source.
//
// Every backend implements StateStore and stores the same JSON document
// (event.PersistedState). FileStore keeps one file per source
// (state_<source>.json) under a data directory, default
// ~/.local/share/events-monitor/, and replaces it atomically through a
// temporary file and rename. PostgresStore keeps one JSONB row per source,
// RedisStore one key per source, and GistStore one file per source in a
// GitHub gist, optionally encrypted.
//
// Load never fails hard on bad data: missing or empty state yields an empty
// state, and corrupt or unreadable state yields an empty state together with a
// StoreError of kind ReadCorrupt so the caller can log it and carry on.
package storage
