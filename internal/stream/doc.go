// Package stream turns the backend's noisy, token-granular event stream
// into clean message-log mutations.
//
// # Sessions
//
// Each conversation gets at most one live Session, which owns its WebSocket
// connection and its lifecycle: disconnected, connecting, open, closed.
// Connection loss triggers automatic reconnect with backoff, carrying the
// most recent queued outbound message so nothing typed during the window is
// lost. When the reconnect budget is exhausted the session surfaces exactly
// one system message and stops.
//
// # Token Aggregation
//
// Inbound text tokens append to the open assistant message; a debounce timer
// finalizes it after the stream has been idle, so the next token starts a
// fresh message.
//
// # Duplicate Suppression
//
// Two independent rules suppress duplicate deliveries: events carrying an
// explicit id are processed at most once (dedupe.Cache), and a token burst
// byte-identical to the previous one inside a short window is treated as a
// retransmission (dedupe.Coalescer). Distinct tokens that merely render the
// same text outside the window are never suppressed.
//
// # Side Channels
//
// Tool activity and file transfers never land in the message log:
// tool_call/tool_result pairs correlate by id in a transient ToolRegistry,
// and file outcomes go out on a buffered channel.
package stream
