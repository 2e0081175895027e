// Package database provides connection pool management for the
// TimescaleDB event journal.
package database
