// Package database provides PostgreSQL connection pools for the snapshot store.
package database
