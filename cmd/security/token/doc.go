// Package token provides one-way hashing for credential identifiers.
//
// Refresh credentials are persisted only as a keyed hash of their jti, so a
// leaked ledger cannot be replayed. The key (salt) comes from QCK_JTI_HASH_SALT
// and must be at least MinSaltBytes long. Output is always 64-char lowercase hex.
package token
