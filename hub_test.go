package mercury

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
)

var (
	chFoo     = uuid.MustParse("6f1b7c1e-0000-4000-8000-000000000001")
	chBar     = uuid.MustParse("6f1b7c1e-0000-4000-8000-000000000002")
	chBurrito = uuid.MustParse("6f1b7c1e-0000-4000-8000-000000000003")
	keyA      = uuid.MustParse("9a2e1d44-0000-4000-8000-00000000000a")
	keyB      = uuid.MustParse("9a2e1d44-0000-4000-8000-00000000000b")
)

func mockHub(numConnections int) (h *hub) {
	h = newHub()
	h.Start()
	for i := 0; i < numConnections; i++ {
		h.register <- mockConn(chFoo, keyA)
	}
	return h
}

func mockConn(channel, key uuid.UUID) *connection {
	return &connection{
		send:    make(chan []byte, DefaultConnBufferSize),
		created: time.Now(),
		channel: channel,
		key:     key,
	}
}

func mockSinkedHub(initialConnections map[uuid.UUID]int) (h *hub) {
	h = newHub()
	h.Start()
	for channel, num := range initialConnections {
		for i := 0; i < num; i++ {
			h.register <- mockSinkedConn(channel, h)
		}
	}
	return h
}

// mock a connection that sinks data sent to it
func mockSinkedConn(channel uuid.UUID, h *hub) *connection {
	c := mockConn(channel, keyA)
	go func() {
		for range c.send {
			// no-op, but will break loop if chan is closed
		}
		// in practice, a connection tries to unregister itself here
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	return c
}

func publish(h *hub, channel uuid.UUID, data string) int {
	d := delivery{msg: Message{Data: []byte(data), Channel: channel}, result: make(chan int, 1)}
	h.broadcast <- d
	return <-d.result
}

// numConns asks the run loop for a snapshot, which also guarantees every
// earlier request on the hub was handled.
func numConns(h *hub) int {
	reply := make(chan ServerStatus, 1)
	h.status <- reply
	return len((<-reply).Connections)
}

type deliveryCase struct {
	conn     *connection
	expected int
}

func checkDeliveries(t *testing.T, d []deliveryCase) {
	t.Helper()
	for _, c := range d {
		if actual := len(c.conn.send); actual != c.expected {
			t.Errorf("Expected conn on %v to have %d messages in queue, actual: %d",
				c.conn.channel, c.expected, actual)
		}
	}
}

func TestBroadcastSingleplex(t *testing.T) {
	h := mockHub(0)
	c1 := mockConn(chFoo, keyA)
	c2 := mockConn(chBar, keyA)
	h.register <- c1
	h.register <- c2

	if n := publish(h, chFoo, "yo"); n != 1 {
		t.Errorf("unexpected receiver count: got %v want %v", n, 1)
	}
	h.Shutdown()

	checkDeliveries(t, []deliveryCase{
		{c1, 1},
		{c2, 0},
	})
}

func TestBroadcastMultiplex(t *testing.T) {
	h := mockHub(0)
	c1 := mockConn(chFoo, keyA)
	c2 := mockConn(chFoo, keyB)
	c3 := mockConn(chBurrito, keyA)
	h.register <- c1
	h.register <- c2
	h.register <- c3

	var testcases = []struct {
		channel  uuid.UUID
		expected int
	}{
		{chFoo, 2},
		{chFoo, 2},
		{chBar, 0},
	}
	for _, tc := range testcases {
		if n := publish(h, tc.channel, "yo"); n != tc.expected {
			t.Errorf("publish to %v: got %d receivers want %d", tc.channel, n, tc.expected)
		}
	}
	h.Shutdown()

	checkDeliveries(t, []deliveryCase{
		{c1, 2},
		{c2, 2},
		{c3, 0},
	})
}

// channels are exact matches, there is no hierarchy between IDs
func TestBroadcastNoWildcards(t *testing.T) {
	h := mockHub(0)
	defer h.Shutdown()

	c := mockConn(chFoo, keyA)
	h.register <- c
	if n := publish(h, uuid.Nil, "nobody"); n != 0 {
		t.Errorf("unexpected receiver count for nil channel: %d", n)
	}
	if len(c.send) != 0 {
		t.Error("message leaked to a different channel")
	}
}

// if we force unregister a connection from the hub, we tell it exit by closing
// its send channel. when a connection exits for any reason, it tries to
// unregister itself from the hub, so a second unregister must not close twice.
func TestDoubleUnregister(t *testing.T) {
	h := mockHub(0)
	defer h.Shutdown()

	c1 := mockSinkedConn(chBar, h)
	c2 := mockSinkedConn(chFoo, h)
	h.register <- c1
	h.register <- c2
	h.unregister <- c1
	h.unregister <- c1

	if actual, expected := numConns(h), 1; actual != expected {
		t.Errorf("unexpected num of conns: got %v want %v", actual, expected)
	}
}

// test double register is no-op
func TestDoubleRegister(t *testing.T) {
	h := mockHub(0)
	defer h.Shutdown()

	c1 := mockSinkedConn(chBar, h)
	h.register <- c1
	h.register <- c1

	if actual, expected := numConns(h), 1; actual != expected {
		t.Errorf("unexpected num of conns: got %v want %v", actual, expected)
	}
}

func TestCloseChannel(t *testing.T) {
	h := mockHub(0)
	defer h.Shutdown()

	c1 := mockConn(chFoo, keyA)
	c2 := mockConn(chFoo, keyB)
	c3 := mockConn(chBar, keyA)
	h.register <- c1
	h.register <- c2
	h.register <- c3
	h.closeChannel <- chFoo

	if actual, expected := numConns(h), 1; actual != expected {
		t.Fatalf("unexpected num of conns: got %v want %v", actual, expected)
	}
	for _, c := range []*connection{c1, c2} {
		if _, ok := <-c.send; ok {
			t.Error("send chan of closed channel connection still open")
		}
	}
}

func TestCloseKey(t *testing.T) {
	h := mockHub(0)
	defer h.Shutdown()

	c1 := mockConn(chFoo, keyA)
	c2 := mockConn(chFoo, keyB)
	c3 := mockConn(chBar, keyA)
	h.register <- c1
	h.register <- c2
	h.register <- c3
	h.closeKey <- keyA

	if actual, expected := numConns(h), 1; actual != expected {
		t.Fatalf("unexpected num of conns: got %v want %v", actual, expected)
	}
	if n := publish(h, chFoo, "still here"); n != 1 {
		t.Errorf("expected only the keyB connection to remain, got %d receivers", n)
	}
}

// drain empties c's buffer without blocking, the way a fast reader would
// between two publishes.
func drain(c *connection) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// a connection that is not reading should eventually be killed
func TestKillsStalledConnection(t *testing.T) {
	h := mockHub(0)
	defer h.Shutdown()

	stalled := mockConn(chBurrito, keyA) // slow connection - taco overflow
	hungry := mockConn(chBurrito, keyB)  // keeps up - loves tacos
	h.register <- stalled
	h.register <- hungry

	if n := numConns(h); n != 2 {
		t.Fatal("unexpected num of conns after test setup!:", n)
	}

	// send bufsize+50% messages, ensuring the stalled buffer overflows
	for i := 0; i <= DefaultConnBufferSize+(DefaultConnBufferSize/2); i++ {
		publish(h, chBurrito, "hi")
		drain(hungry)
	}

	// one of the connections should have been shutdown now...
	reply := make(chan ServerStatus, 1)
	h.status <- reply
	status := <-reply
	if actual, expected := len(status.Connections), 1; actual != expected {
		t.Fatalf("unexpected num of conns: got %v want %v", actual, expected)
	}
	if status.DroppedConns != 1 {
		t.Errorf("unexpected dropped count: got %v want 1", status.DroppedConns)
	}
	// ...and it better not be our taco loving friend
	if got := status.Connections[0].Key; got != keyB.String() {
		t.Errorf("wrong connection appears to have been shutdown! survivor key %v", got)
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	h := mockHub(0)
	c := mockConn(chFoo, keyA)
	h.register <- c
	h.Shutdown()
	h.Shutdown()

	if _, ok := <-c.send; ok {
		t.Error("expected send chan to be closed after shutdown")
	}
}

func BenchmarkRegister(b *testing.B) {
	h := mockHub(0)
	defer h.Shutdown()
	c := mockConn(chFoo, keyA)

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		h.register <- c
	}
	b.StopTimer()
}

func BenchmarkUnregister(b *testing.B) {
	h := mockHub(1000)
	defer h.Shutdown()

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		b.StopTimer()
		c := mockConn(chBar, keyA)
		h.register <- c
		b.StartTimer()
		h.unregister <- c
	}
}

func BenchmarkBroadcast(b *testing.B) {
	var sizes = []int{1, 10, 100, 500, 1000, 10000}

	for _, s := range sizes {
		b.Run(strconv.Itoa(s), func(b *testing.B) {
			h := mockSinkedHub(map[uuid.UUID]int{chFoo: s})
			b.ResetTimer()
			for n := 0; n < b.N; n++ {
				publish(h, chFoo, "foo bar woo")
			}
			b.StopTimer()
			h.Shutdown()
		})
	}
}

// a busy channel should not slow down publishing to a quiet one
func BenchmarkBroadcastDensity(b *testing.B) {
	var sizes = []int{100, 1000, 10000}

	mockDensityHub := func(s int) *hub {
		return mockSinkedHub(map[uuid.UUID]int{
			chFoo: int(float64(s) * 0.95),
			chBar: int(float64(s) * 0.05),
		})
	}

	for name, channel := range map[string]uuid.UUID{"dense": chFoo, "sparse": chBar} {
		channel := channel
		b.Run(name, func(b *testing.B) {
			for _, s := range sizes {
				b.Run(strconv.Itoa(s), func(b *testing.B) {
					h := mockDensityHub(s)
					b.ResetTimer()
					for n := 0; n < b.N; n++ {
						publish(h, channel, "foo bar woo")
					}
					b.StopTimer()
					h.Shutdown()
				})
			}
		})
	}
}
