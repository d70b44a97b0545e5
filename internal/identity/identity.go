// Package identity authenticates API callers.
//
// It provides:
//   - TokenIssuer issues and verifies HS256 JWT access tokens
//   - RequireScope is Gin middleware enforcing a Bearer token with a scope
//   - ClaimsFromCtx gives access to the verified claims inside a handler
//
// Scopes are ScopeRead, ScopeWrite and ScopeAdmin. ScopeAdmin implies the
// other two.
package identity

const (
	ScopeRead  = "ledger:read"
	ScopeWrite = "ledger:write"
	ScopeAdmin = "ledger:admin"
)
