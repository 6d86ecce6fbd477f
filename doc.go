/*
Package mercury implements the fan-out core of the Mercury pub/sub broker:
messages published to a channel are streamed to every subscriber of that
channel over Server-Sent Events.

The HTTP API (users, channels, keys, sessions) lives in the api package and
authenticates requests before handing them to a Server. Client libraries for
administration, publishing and subscribing live in the client, publisher and
subscriber packages.


Server-Sent Events

Each subscriber receives a text/event-stream response. Messages are written as

	data:<payload>\n\n

with an optional event: line, and a :keepalive comment is written every 15
seconds so idle proxies keep the stream open. Message IDs and replay are not
implemented.


Channels

Subscriptions are keyed by channel ID. A message published to a channel is
queued to every connection registered for that channel and Publish reports
how many connections received it. A subscriber that falls more than its
buffer size behind is dropped instead of slowing the hub down.

	s, _ := mercury.NewServer()
	n, err := s.Publish(ctx, mercury.Message{Channel: id, Data: payload})
*/
package mercury
