package mercury

import (
	"os"
	"sort"
	"time"
)

// ServerStatus is snapshot of metadata describing the status of a Server.
//
// It can be serialized to JSON and is what gets reported to the admin
// status endpoint.
type ServerStatus struct {
	Node         string             `json:"node"`
	Status       string             `json:"status"`
	Reported     int64              `json:"reported_at"`
	StartupTime  int64              `json:"startup_time"`
	SentMsgs     uint64             `json:"msgs_broadcast"`
	DroppedConns uint64             `json:"conns_dropped"`
	Channels     int                `json:"channels"`
	Connections  []ConnectionStatus `json:"connections"`
}

func newServerStatus(h *hub, cl []ConnectionStatus) ServerStatus {
	// sort by age of connection
	sort.Slice(cl, func(i, j int) bool {
		return cl[i].Created < cl[j].Created
	})
	return ServerStatus{
		Node:         nodeName(),
		Status:       "OK",
		Reported:     time.Now().Unix(),
		StartupTime:  h.startupTime.Unix(),
		SentMsgs:     h.sentMsgs,
		DroppedConns: h.droppedConns,
		Channels:     len(h.channels),
		Connections:  cl,
	}
}

// Status returns a snaphot of status metadata for the Server.
//
// Primarily intended for logging and reporting. A shut down server reports
// status "CLOSED" and no connections.
func (s *Server) Status() ServerStatus {
	reply := make(chan ServerStatus, 1)
	select {
	case s.hub.status <- reply:
		return <-reply
	case <-s.hub.done:
		return ServerStatus{
			Node:        nodeName(),
			Status:      "CLOSED",
			Reported:    time.Now().Unix(),
			StartupTime: s.hub.startupTime.Unix(),
			Connections: []ConnectionStatus{},
		}
	}
}

// Attempts to intelligently get the name of the node we are running on.
//
// First checks for a $MERCURY_NODE variable, if that isn't found will default
// to the local hostname.
func nodeName() string {
	if node := os.Getenv("MERCURY_NODE"); node != "" {
		return node
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
