// Package session manages conversation state across a local repository and
// an optional remote backend.
//
// # Storage Model
//
// Every conversation carries a storage class. Local conversations live only
// in the store.Repository; remote conversations are owned by the backend and
// mirrored into the repository so listing and reading keep working offline.
// When the same conversation exists in both places the remote copy wins.
//
// The write path never surfaces remote failures for operations that can
// degrade: creating a conversation falls back to local storage silently, and
// posting a user message to the backend is best-effort once the local append
// has succeeded. Deleting a remote conversation is the exception, since
// removing only the mirror would resurrect the conversation on the next
// list.
//
// # Streaming Assistant Messages
//
// The Manager exposes a three-phase API for streamed assistant output:
// StartAssistantMessage opens an in-flight message, AppendAssistantText
// accumulates tokens into it, and FinalizeAssistantMessage closes it.
// Content persists on every append so an interrupted stream keeps everything
// received so far. Assistant output for remote conversations is only
// mirrored locally; the backend records its own copy and must not receive it
// again.
//
// # Change Notifications
//
// Mutations publish Change events through a Notifier. Subscribers register
// for a single conversation id or AllConversations and receive explicit
// events (created, deleted, message_appended, message_updated,
// title_changed) instead of polling.
package session
