// Package auth is the identity, session and authorization layer of the
// admin portal: password and provider login, account linking, onboarding,
// server side sessions and role guards.
//
// Sessions:
//   - A session is a row in the sessions table. The cookie carries a signed
//     JWT whose jti names that row, so logging out or revoking a user deletes
//     the row and every outstanding cookie stops resolving.
//   - Browser sessions use a session cookie, remembered sessions a persistent
//     one. Both expire server side.
//
// Provider linking:
//   - Linker decides what a provider callback means: resume an existing
//     connection, attach the provider to the signed in user, auto link a
//     trusted verified email, or hand off to onboarding through a single use
//     verification record.
//   - Every state change and its audit entry commit in the same transaction.
//
// Audit sinks:
//   - AuditSink receives entries after they are stored. Sinks run best
//     effort (errors are logged) so metrics or queues never block a login.
package auth
