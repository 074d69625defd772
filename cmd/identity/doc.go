// Package identity is qck's user directory.
//
// It resolves account identifiers to the profile data that access
// credentials carry (email, tier, scope) and checks login passwords with
// Argon2id. Users are created here but managed elsewhere; the session
// engine only ever reads from this package.
package identity
