// Package auth implements the credential verification strategies guarding
// the query pipeline: self-issued HS256 tokens checked against a local user
// table, and remote token introspection against an identity provider.
package auth

import "context"

// Claims is the identity asserted by a verified credential.
type Claims struct {
	Subject  string
	Audience string
}

// Verifier validates a bearer credential and yields the caller identity.
// Verification failure is terminal for the request; there are no retries.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Claims, error)
}
