// Package storage is the persistence layer behind the dispatch engine:
// client preference profiles (quiet hours, last-notification timestamp),
// pending digest items, cross-restart event dedup, and the append-only audit
// ledger. Three drivers: memory, file (jsonl + snapshot), sqlite.
package storage
