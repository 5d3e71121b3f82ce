// Package ledger defines the domain records shared across the engine:
// accounts and families (the syncable entities), dated entries, per-day
// balance rows, and the Sync unit-of-work with its status state machine.
//
// The package holds no behavior beyond pure helpers (sign conventions,
// window arithmetic, transition validation); persistence lives in
// internal/store and computation in internal/balance and internal/syncer.
package ledger
