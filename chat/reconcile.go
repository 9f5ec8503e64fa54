package chat

import "github.com/tutorhub/tutorhub-go-sdk/wire"

// Reconcile reports whether incoming is the server's copy of the
// optimistically inserted pending message.
//
// SendMessage carries only the channel and the content, so the server's
// copy cannot be matched by a client token. The match is a heuristic:
// pending must be provisional, its id must be above ProvisionalIDThreshold,
// and sender and content must be identical. Two identical sends in quick
// succession are indistinguishable; the first push replaces the newest
// pending copy.
func Reconcile(pending, incoming wire.Message) bool {
	if !pending.Provisional || !IsProvisionalID(pending.ID) {
		return false
	}
	return pending.SenderID == incoming.SenderID && pending.Content == incoming.Content
}
