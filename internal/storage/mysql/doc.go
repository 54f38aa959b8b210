// Package mysql provides connection pooling and schema migration helpers
// backed by MySQL. The conversation and bundle packages own their own typed
// stores; this package applies the embedded SQL migrations once at startup.
package mysql
