// Package auth supplies bearer tokens for the remote backend.
//
// A TokenSource yields the current session token or ErrNoSession. Callers
// treat ErrNoSession as a routing signal: the remote path is skipped and the
// local fallback is taken, so an unauthenticated request is never issued.
//
// SessionTokenSource wraps another source and adds two behaviors: the
// underlying source can be swapped at runtime when the user signs in or
// out, and tokens that parse as JWTs are checked for expiry before being
// handed out. Opaque tokens pass through unchecked.
package auth
