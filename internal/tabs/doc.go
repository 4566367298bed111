// Package tabs implements the conversation tab strip as a pure state
// machine.
//
// The controller holds an ordered list of at most MaxTabs real tabs plus one
// permanent draft tab, with exactly one tab active at all times. The draft
// tab is the always-available entry point for a new conversation: promoting
// it binds it to a real conversation and atomically inserts a fresh draft,
// so no observer ever sees a state without one.
//
// # Ordering Policies
//
// Two policies are supported. Newest-first pins the draft at the front,
// inserts new tabs behind it, and evicts from the back; oldest-first is the
// mirror image. The policy is fixed at construction and applied consistently
// to insertion, eviction, and draft placement.
//
// The controller knows nothing about conversations beyond their ids.
// Eviction and close return the affected tab so the caller can tear down any
// live connection bound to it.
package tabs
