// Package accounts is a credential and session lifecycle service. It
// registers accounts, verifies passwords, issues and rotates signed session
// tokens, gates access by role and recovers accounts through single-use
// secrets delivered by email.
//
// Lifecycle:
//   - Accounts are created pending and become active once the emailed
//     activation token is consumed. State is never stored, AccountState
//     derives it from the account flags and secret slots at a given instant.
//   - StateMachine guards every mutation with the lifecycle graph and
//     publishes state changes to the configured ActivitySink.
//   - Five consecutive failed logins lock an account for fifteen minutes.
//
// Secrets:
//   - Activation and reset tokens are 256 bit random values. Only their
//     SHA-256 digest is persisted and each one is consumed exactly once.
//   - One-time login codes are six digits, expire after ten minutes and
//     are burned after five wrong attempts.
//
// Sessions:
//   - Access tokens are short lived and stateless. Refresh tokens carry the
//     account token version, which is bumped on refresh, logout and every
//     password change so older refresh tokens stop working.
//
// Activity sinks run best effort: their errors are logged and never fail
// the operation that emitted the event.
package accounts
