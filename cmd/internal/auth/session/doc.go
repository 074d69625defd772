// Package session implements qck's session security engine.
//
// Login issues a pair of signed credentials: a short-lived access credential
// that is verified without storage, and a long-lived refresh credential whose
// lifecycle is tracked in a ledger keyed by the keyed hash of its id.
//
// Every rotation revokes the presented refresh row and inserts its successor
// under the same lineage id. A rotated credential that comes back is treated
// as theft and the whole lineage is revoked. A pluggable suspicion policy can
// revoke every row of the user instead.
//
// Logout puts the access credential id on a short-lived deny list
// (RevocationCache) and revokes the user's refresh rows.
//
// Transport (HTTP) integration lives in cmd/internal/auth/api.
package session
