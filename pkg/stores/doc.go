// Package stores persists the installer history in SQLite: every attempt
// with its routed outcome and exit code, the continuation tasks registered
// for after-reboot runs, and the events recorded along the way. Schema
// changes ship as embedded migrations.
package stores
