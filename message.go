package mercury

import (
	"bytes"

	"github.com/google/uuid"
)

// Message is a payload published to a channel, ready to be fanned out over
// Server-Sent Events.
//
// Channel is not part of the SSE wire format, it only selects which
// subscriptions receive the message.
type Message struct {
	Event   string    // event type for the message [optional]
	Data    []byte    // message payload, typically compact JSON
	Channel uuid.UUID // channel the message was published to
}

// sseFormat is the formatted bytestring for a SSE message, ready to be sent.
//
// Payloads spanning several lines are split into one data field per line, so
// the client reassembles them with the original newlines.
func (msg Message) sseFormat() []byte {
	b := make([]byte, 0, 6+5+len(msg.Event)+len(msg.Data)+3)
	if msg.Event != "" {
		b = append(b, "event:"...)
		b = append(b, msg.Event...)
		b = append(b, '\n')
	}
	data := msg.Data
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b = append(b, "data:"...)
		b = append(b, data[:i]...)
		b = append(b, '\n')
		data = data[i+1:]
	}
	b = append(b, "data:"...)
	b = append(b, data...)
	b = append(b, '\n', '\n')
	return b
}
