// Package auth provides bearer-token authentication for the MacroForge API.
//
// Tokens are HS256-signed JWTs carrying a subject and a role. There is no
// user database: tokens are minted by the `macroforge token` command with
// the configured secret and validated by signature and expiry only.
//
// Three roles form a strict hierarchy (viewer → operator → admin):
//   - viewer reads scripts, runs, background and queue status
//   - operator additionally starts and cancels runs, actions and queues
//   - admin additionally creates, updates and deletes scripts
//
// Stop-all is granted to operators and admins. Permissions are a static
// role mapping; no lookup happens per request.
package auth
