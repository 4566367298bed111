// Package dedupe provides duplicate suppression for stream ingestion: a TTL
// cache keyed by explicit event id, and a time-windowed coalescer for
// byte-identical retransmissions that carry no id. The two rules are kept as
// separate types so each can be tested and tuned independently.
package dedupe
