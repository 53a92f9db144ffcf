// Package store defines the run ledger contract used to record task and result
// outcomes. Implementations live in other packages; this package must not
// import database drivers or concrete clients.
package store
