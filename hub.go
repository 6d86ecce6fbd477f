package mercury

import (
	"sync"
	"time"

	"github.com/azer/debug"
	"github.com/google/uuid"

	"github.com/mercury-pubsub/mercury/internal/metrics"
)

// A delivery is a message plus a reply slot for the number of connections
// it was queued to.
type delivery struct {
	msg    Message
	result chan int
}

// A connection hub keeps track of all the active client connections, grouped
// by channel, and handles broadcasting messages out to the connections
// subscribed to the message's channel.
type hub struct {
	broadcast    chan delivery                          // Inbound messages to propagate out.
	channels     map[uuid.UUID]map[*connection]struct{} // Registered connections, by channel.
	register     chan *connection                       // Register requests from the connections.
	unregister   chan *connection                       // Unregister requests from connections.
	closeChannel chan uuid.UUID                         // Drop every connection of a channel.
	closeKey     chan uuid.UUID                         // Drop every connection opened with a key.
	status       chan chan ServerStatus                 // Snapshot requests.
	shutdown     chan struct{}                          // Closed to stop the run loop.
	done         chan struct{}                          // Closed once the run loop exited.
	once         sync.Once
	numConns     int       // Registered connections across all channels
	sentMsgs     uint64    // Msgs broadcast since startup
	droppedConns uint64    // Connections dropped for a full buffer
	startupTime  time.Time // Time hub was created
}

func newHub() *hub {
	return &hub{
		broadcast:    make(chan delivery),
		channels:     make(map[uuid.UUID]map[*connection]struct{}),
		register:     make(chan *connection),
		unregister:   make(chan *connection),
		closeChannel: make(chan uuid.UUID),
		closeKey:     make(chan uuid.UUID),
		status:       make(chan chan ServerStatus),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
		startupTime:  time.Now(),
	}
}

// Start runs the hub loop in its own goroutine.
func (h *hub) Start() {
	go h.run()
}

// Shutdown stops the hub and closes every registered connection, blocking
// until the run loop exited. Safe to call more than once.
func (h *hub) Shutdown() {
	h.once.Do(func() { close(h.shutdown) })
	<-h.done
}

func (h *hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.shutdown:
			debug.Debug("hub shutting down, closing all connections")
			for _, conns := range h.channels {
				for c := range conns {
					h.remove(c)
				}
			}
			return
		case c := <-h.register:
			conns, ok := h.channels[c.channel]
			if !ok {
				conns = make(map[*connection]struct{})
				h.channels[c.channel] = conns
			}
			if _, exists := conns[c]; exists {
				continue
			}
			debug.Debug("new connection being registered for " + c.channel.String())
			conns[c] = struct{}{}
			h.numConns++
			metrics.ActiveSubscriptions.Inc()
		case c := <-h.unregister:
			debug.Debug("connection told us to unregister for " + c.channel.String())
			h.remove(c)
		case d := <-h.broadcast:
			d.result <- h.deliver(d.msg)
		case id := <-h.closeChannel:
			for c := range h.channels[id] {
				h.remove(c)
			}
		case id := <-h.closeKey:
			for _, conns := range h.channels {
				for c := range conns {
					if c.key == id {
						h.remove(c)
					}
				}
			}
		case reply := <-h.status:
			reply <- h.snapshot()
		}
	}
}

// deliver queues msg on every connection of its channel and returns how many
// accepted it. A connection whose buffer is full is dropped rather than
// allowed to stall the hub.
func (h *hub) deliver(msg Message) int {
	h.sentMsgs++
	metrics.PublishedMessages.Inc()

	formatted := msg.sseFormat()
	n := 0
	for c := range h.channels[msg.Channel] {
		select {
		case c.send <- formatted:
			n++
		default:
			debug.Debug("cant pass to a connection send chan, buffer is full -- kill it with fire")
			h.droppedConns++
			metrics.DroppedConnections.Inc()
			h.remove(c)
		}
	}
	metrics.DeliveredMessages.Add(float64(n))
	return n
}

// remove drops c and closes its send chan, which tells the connection writer
// to end the HTTP stream. Removing an unknown connection is a no-op, so a
// connection dropped by the hub can still unregister itself afterwards.
func (h *hub) remove(c *connection) {
	conns, ok := h.channels[c.channel]
	if !ok {
		return
	}
	if _, exists := conns[c]; !exists {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.channels, c.channel)
	}
	h.numConns--
	metrics.ActiveSubscriptions.Dec()
	close(c.send)
}

func (h *hub) snapshot() ServerStatus {
	cl := make([]ConnectionStatus, 0, h.numConns)
	for _, conns := range h.channels {
		for c := range conns {
			cl = append(cl, c.Status())
		}
	}
	return newServerStatus(h, cl)
}
