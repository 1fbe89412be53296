// Package auth provides session token handling and HTTP auth middleware.
//
// # Components
//
//   - JWTVerifier: HS256 session tokens (Generate at login, Verify per request)
//   - Middleware: bearer-token middleware populating the request context
//   - RequireKey: static shared-key middleware for worker and health endpoints
//   - WithUser/UserFromContext: context propagation of the authenticated user id
//
// Sessions carry only the user id in the "sub" claim. The worker is not a
// user; it authenticates with a static key header checked by RequireKey.
package auth
