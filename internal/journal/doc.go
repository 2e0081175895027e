// Package journal records bus events into TimescaleDB.
//
// The Writer subscribes to the event bus, batches status transitions and
// inbound messages, and flushes them on batch size, on a ticker, and on
// Stop. Rows are keyed by (session_id, seq) and inserted append-only
// with ON CONFLICT DO NOTHING.
package journal
