package chat

import (
	"strings"

	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

// FilterChannels returns the channels whose counterparty name or last
// message preview contains query, ignoring case. Only the empty query
// returns all channels; whitespace is matched literally. Order is preserved.
func FilterChannels(channels []wire.Channel, query string) []wire.Channel {
	q := strings.ToLower(query)
	if q == "" {
		return append([]wire.Channel(nil), channels...)
	}
	out := make([]wire.Channel, 0, len(channels))
	for _, ch := range channels {
		if strings.Contains(strings.ToLower(ch.CounterpartyName), q) ||
			strings.Contains(strings.ToLower(ch.LastMessagePreview), q) {
			out = append(out, ch)
		}
	}
	return out
}
