// Package auth provides authentication for patron-gateway's operator surfaces.
//
// # Authentication Methods
//
// Two surfaces share the same JWT machinery:
//
//   - Bearer tokens: The admin API and the patron-admin CLI authenticate with
//     JWT bearer tokens signed with HS256 using the configured jwt_secret.
//
//   - Dashboard cookies: The web dashboard stores a short-lived JWT in an
//     HTTP-only cookie after a bcrypt password check. The dashboard package
//     owns the cookie lifecycle; verification goes through the same verifier.
//
// # Identity
//
// The gateway has a single operator tier. A verified token yields an Identity
// carrying the subject claim, propagated via WithIdentity/IdentityFrom.
// Customer traffic is never authenticated here; customers are identified by
// their channel session only.
//
// # Token Management
//
//	verifier, err := NewJWTVerifier(secret)
//	token, err := verifier.Generate("operator", 24*time.Hour)
//	subject, err := verifier.Verify(token)
//
// Secrets shorter than MinSecretLength are rejected at construction.
package auth
