// Package auth implements sessions and authorization for the proposal
// approval workflow: credential issue and verification, the route guard,
// the role-permission map and the identity store boundary.
//
// Credentials:
//   - TokenService signs HS256 credentials carrying the subject id, a role
//     snapshot, an approval snapshot and the remember me flag. Expiry is
//     checked before the signature so callers can tell a credential that
//     only needs a refresh from a forged one.
//   - Snapshots are never used for authorization. Refresh and the Guard
//     both re-read the record through IdentityStore.
//
// Guard:
//   - Guard.Authorize resolves a Principal from a bearer credential or the
//     shared API key, then applies the RouteRule. Protect adapts it into
//     go-router middleware and stores the Principal in locals and in the
//     request context.
//   - Granted access is appended to an AuditSink in the background through
//     Auditor. Sink failures are logged and never block the request.
//
// Accounts:
//   - Accounts covers password login, self registration, administrator
//     created accounts and approval. New accounts start unapproved unless
//     the role's RolePermission entry says otherwise.
//
// External providers live in the social package and persistent stores in
// the repository package.
package auth
