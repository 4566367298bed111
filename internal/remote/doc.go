// Package remote wraps the backend's thread REST API.
//
// The Gateway is a thin request/response layer: list threads, create a
// thread, fetch and post messages, delete a thread, and sync a local
// conversation up as a new thread. Every call requires a token from the
// auth.TokenSource; without one the call fails fast with auth.ErrNoSession
// before any request is made, which is how callers route to their local
// fallback.
//
// Thread titles live in the thread's metadata map under "title"; threads
// without one display as "New Chat".
package remote
