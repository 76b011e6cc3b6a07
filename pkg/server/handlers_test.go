package server

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/aeolun/chirp/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentDatagram is one WriteTo call seen by fakePacketConn
type sentDatagram struct {
	addr net.Addr
	data []byte
}

// fakePacketConn records outbound datagrams. ReadFrom blocks until Close.
type fakePacketConn struct {
	sent   chan sentDatagram
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	failTo map[string]bool
}

func newFakePacketConn() *fakePacketConn {
	return &fakePacketConn{
		sent:   make(chan sentDatagram, 256),
		closed: make(chan struct{}),
		failTo: make(map[string]bool),
	}
}

func (c *fakePacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	<-c.closed
	return 0, nil, net.ErrClosed
}

func (c *fakePacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	fail := c.failTo[addr.String()]
	c.mu.Unlock()
	if fail {
		return 0, errors.New("host unreachable")
	}

	data := make([]byte, len(p))
	copy(data, p)
	c.sent <- sentDatagram{addr: addr, data: data}
	return len(p), nil
}

func (c *fakePacketConn) failWritesTo(addr net.Addr) {
	c.mu.Lock()
	c.failTo[addr.String()] = true
	c.mu.Unlock()
}

func (c *fakePacketConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakePacketConn) LocalAddr() net.Addr                { return udpAddr(12000) }
func (c *fakePacketConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakePacketConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakePacketConn) SetWriteDeadline(t time.Time) error { return nil }

// next returns the next sent datagram, decoded
func (c *fakePacketConn) next(t *testing.T) (net.Addr, *protocol.Message) {
	t.Helper()
	select {
	case d := <-c.sent:
		msg, err := protocol.Decode(d.data)
		require.NoError(t, err)
		return d.addr, msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a datagram")
		return nil, nil
	}
}

// expectNone asserts nothing else is sent for a short while
func (c *fakePacketConn) expectNone(t *testing.T) {
	t.Helper()
	select {
	case d := <-c.sent:
		msg, _ := protocol.Decode(d.data)
		t.Fatalf("unexpected datagram to %s: %v", d.addr, msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// newTestServer runs a relay on a fake socket. No journal, no heartbeat.
func newTestServer(t *testing.T, mutate func(*ServerConfig)) (*Server, *fakePacketConn) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.LogPath = ""
	cfg.StatusInterval = 0
	cfg.DeliveryWorkers = 2
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := NewServer(cfg, zerolog.Nop())
	require.NoError(t, err)

	conn := newFakePacketConn()
	require.NoError(t, srv.serve(conn))
	t.Cleanup(func() { srv.Stop() })

	return srv, conn
}

// hello registers name from addr and returns the assigned id
func hello(t *testing.T, srv *Server, conn *fakePacketConn, addr net.Addr, name string) uint32 {
	t.Helper()
	srv.handleDatagram(addr, protocol.Encode(protocol.NewHello(0, 0, name)))

	to, reply := conn.next(t)
	require.Equal(t, addr.String(), to.String())
	require.Equal(t, protocol.KindHello, reply.Kind)
	require.Equal(t, protocol.ServerID, reply.OriginID)
	return reply.DestinationID
}

func send(srv *Server, addr net.Addr, msg *protocol.Message) {
	srv.handleDatagram(addr, protocol.Encode(msg))
}

// collect gathers n datagrams keyed by destination address
func collect(t *testing.T, conn *fakePacketConn, n int) map[string]*protocol.Message {
	t.Helper()
	got := make(map[string]*protocol.Message)
	for i := 0; i < n; i++ {
		to, msg := conn.next(t)
		_, dup := got[to.String()]
		require.False(t, dup, "second delivery to %s", to)
		got[to.String()] = msg
	}
	return got
}

func TestHelloAssignsSequentialIDs(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	alice := hello(t, srv, conn, udpAddr(5001), "alice")
	bob := hello(t, srv, conn, udpAddr(5002), "bob")

	assert.Equal(t, uint32(1), alice)
	assert.Equal(t, uint32(2), bob)
	assert.Equal(t, 2, srv.Sessions().Count())

	sess, ok := srv.Sessions().Lookup(bob)
	require.True(t, ok)
	assert.Equal(t, "bob", sess.Name)
	assert.Equal(t, udpAddr(5002).String(), sess.Addr.String())
}

func TestHelloReplyCarriesServerName(t *testing.T) {
	srv, conn := newTestServer(t, func(c *ServerConfig) { c.ServerID = "relay-7" })

	send(srv, udpAddr(5001), protocol.NewHello(0, 0, "alice"))
	_, reply := conn.next(t)
	assert.Equal(t, "relay-7", reply.SenderName)
	assert.Equal(t, uint32(1), reply.DestinationID)
}

func TestHelloIsIdempotent(t *testing.T) {
	srv, conn := newTestServer(t, nil)
	addr := udpAddr(5001)

	id := hello(t, srv, conn, addr, "alice")

	// Same claimed id
	send(srv, addr, protocol.NewHello(id, 0, "alice"))
	_, reply := conn.next(t)
	assert.Equal(t, id, reply.DestinationID)

	// Lost ack, client retries with provisional id 0 from the same address
	send(srv, addr, protocol.NewHello(0, 0, "alice"))
	_, reply = conn.next(t)
	assert.Equal(t, id, reply.DestinationID)

	assert.Equal(t, 1, srv.Sessions().Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().sessionsCreated))
}

func TestHelloClaimingForeignIDIsIgnored(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	id := hello(t, srv, conn, udpAddr(5001), "alice")

	send(srv, udpAddr(6666), protocol.NewHello(id, 0, "mallory"))
	conn.expectNone(t)

	sess, ok := srv.Sessions().Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "alice", sess.Name)
	assert.Equal(t, 1, srv.Sessions().Count())
}

func TestBroadcastReachesEveryoneButSender(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	alice := hello(t, srv, conn, udpAddr(5001), "alice")
	hello(t, srv, conn, udpAddr(5002), "bob")
	hello(t, srv, conn, udpAddr(5003), "carol")

	send(srv, udpAddr(5001), protocol.NewPost(alice, 0, "alice", "hello all"))

	got := collect(t, conn, 2)
	conn.expectNone(t)

	for _, addr := range []net.Addr{udpAddr(5002), udpAddr(5003)} {
		msg, ok := got[addr.String()]
		require.True(t, ok, "no delivery to %s", addr)
		assert.Equal(t, protocol.KindPost, msg.Kind)
		assert.Equal(t, alice, msg.OriginID)
		assert.Equal(t, uint32(0), msg.DestinationID)
		assert.Equal(t, "hello all", msg.Text)
	}
	assert.NotContains(t, got, udpAddr(5001).String())
}

func TestBroadcastEchoesWhenEnabled(t *testing.T) {
	srv, conn := newTestServer(t, func(c *ServerConfig) { c.EchoBroadcasts = true })

	alice := hello(t, srv, conn, udpAddr(5001), "alice")
	hello(t, srv, conn, udpAddr(5002), "bob")

	send(srv, udpAddr(5001), protocol.NewPost(alice, 0, "alice", "echo"))

	got := collect(t, conn, 2)
	conn.expectNone(t)
	assert.Contains(t, got, udpAddr(5001).String())
	assert.Contains(t, got, udpAddr(5002).String())
}

func TestBroadcastSurvivesSendFailure(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	alice := hello(t, srv, conn, udpAddr(5001), "alice")
	hello(t, srv, conn, udpAddr(5002), "bob")
	hello(t, srv, conn, udpAddr(5003), "carol")

	conn.failWritesTo(udpAddr(5002))
	send(srv, udpAddr(5001), protocol.NewPost(alice, 0, "alice", "anyone?"))

	to, msg := conn.next(t)
	assert.Equal(t, udpAddr(5003).String(), to.String())
	assert.Equal(t, "anyone?", msg.Text)
	conn.expectNone(t)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(srv.Metrics().sendFailures) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPrivateDelivery(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	alice := hello(t, srv, conn, udpAddr(5001), "alice")
	bob := hello(t, srv, conn, udpAddr(5002), "bob")
	hello(t, srv, conn, udpAddr(5003), "carol")

	post := protocol.NewPost(bob, alice, "bob", "secret")
	send(srv, udpAddr(5002), post)

	to, msg := conn.next(t)
	assert.Equal(t, udpAddr(5001).String(), to.String())
	assert.True(t, post.Equal(msg), "private posts are forwarded unmodified")
	conn.expectNone(t)
}

func TestPrivateDeliveryUnknownRecipient(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	alice := hello(t, srv, conn, udpAddr(5001), "alice")
	hello(t, srv, conn, udpAddr(5002), "bob")

	send(srv, udpAddr(5001), protocol.NewPost(alice, 42, "alice", "anyone there?"))

	to, msg := conn.next(t)
	assert.Equal(t, udpAddr(5001).String(), to.String())
	assert.Equal(t, protocol.KindError, msg.Kind)
	assert.Equal(t, protocol.ServerID, msg.OriginID)
	assert.Equal(t, alice, msg.DestinationID)
	assert.Equal(t, ErrTextRecipientNotFound, msg.Text)
	conn.expectNone(t)
}

func TestPostFromUnregisteredOrigin(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	hello(t, srv, conn, udpAddr(5001), "alice")

	send(srv, udpAddr(7000), protocol.NewPost(9, 0, "ghost", "boo"))

	to, msg := conn.next(t)
	assert.Equal(t, udpAddr(7000).String(), to.String())
	assert.Equal(t, protocol.KindError, msg.Kind)
	assert.Equal(t, ErrTextNotRegistered, msg.Text)
	conn.expectNone(t)
	assert.Equal(t, 1, srv.Sessions().Count())
}

func TestListRepliesWithOtherSessions(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	alice := hello(t, srv, conn, udpAddr(5001), "alice")
	hello(t, srv, conn, udpAddr(5002), "bob")
	hello(t, srv, conn, udpAddr(5003), "carol")

	send(srv, udpAddr(5001), protocol.NewListRequest(alice, "alice"))

	to, msg := conn.next(t)
	assert.Equal(t, udpAddr(5001).String(), to.String())
	assert.Equal(t, protocol.KindList, msg.Kind)
	assert.Equal(t, alice, msg.DestinationID)
	assert.Equal(t, "2:bob\n3:carol\n", msg.Text)
}

func TestListOverflowIsTruncated(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	requester := hello(t, srv, conn, udpAddr(5000), "me")
	for i := 1; i <= 20; i++ {
		hello(t, srv, conn, udpAddr(5000+i), "a-rather-long-name-xx")
	}

	send(srv, udpAddr(5000), protocol.NewListRequest(requester, "me"))
	_, msg := conn.next(t)
	assert.LessOrEqual(t, len(msg.Text), protocol.MaxTextLength)
	assert.NotEmpty(t, protocol.ParseDirectory(msg.Text))
}

func TestHelloNameCannotForgeDirectoryEntries(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	alice := hello(t, srv, conn, udpAddr(5001), "alice")
	mallory := hello(t, srv, conn, udpAddr(5002), "x\n99:admin")

	sess, ok := srv.Sessions().Lookup(mallory)
	require.True(t, ok)
	assert.Equal(t, "x99:admin", sess.Name)

	send(srv, udpAddr(5001), protocol.NewListRequest(alice, "alice"))
	_, msg := conn.next(t)
	assert.Equal(t, "2:x99:admin\n", msg.Text)
	assert.Equal(t, []protocol.Entry{{ID: mallory, Name: "x99:admin"}}, protocol.ParseDirectory(msg.Text))
}

func TestHelloWithoutUsableNameIsRejected(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	send(srv, udpAddr(5001), protocol.NewHello(0, 0, "\r\n\t "))

	to, msg := conn.next(t)
	assert.Equal(t, udpAddr(5001).String(), to.String())
	assert.Equal(t, protocol.KindError, msg.Kind)
	assert.Equal(t, ErrTextInvalidName, msg.Text)
	assert.Equal(t, 0, srv.Sessions().Count())
}

func TestByeRemovesSession(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	alice := hello(t, srv, conn, udpAddr(5001), "alice")
	send(srv, udpAddr(5001), protocol.NewBye(alice, "alice"))
	conn.expectNone(t)

	_, ok := srv.Sessions().Lookup(alice)
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().sessionsDisconnected))

	// Unknown bye is a no-op
	send(srv, udpAddr(5001), protocol.NewBye(alice, "alice"))
	conn.expectNone(t)
}

func TestMalformedDatagramIsDropped(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	srv.handleDatagram(udpAddr(5001), []byte{0, 0, 0, 0, 1, 2, 3})
	conn.expectNone(t)

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().malformed))
	assert.Equal(t, 0, srv.Sessions().Count())
}

func TestUnknownKindIsIgnored(t *testing.T) {
	srv, conn := newTestServer(t, nil)

	send(srv, udpAddr(5001), protocol.NewMessage(protocol.Kind(99), 0, 0, "x", "y"))
	conn.expectNone(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().messagesReceived.WithLabelValues("UNKNOWN")))
}

func TestAliceAndBobScenario(t *testing.T) {
	srv, conn := newTestServer(t, nil)
	aliceAddr, bobAddr := udpAddr(5001), udpAddr(5002)

	alice := hello(t, srv, conn, aliceAddr, "alice")
	bob := hello(t, srv, conn, bobAddr, "bob")
	require.Equal(t, uint32(1), alice)
	require.Equal(t, uint32(2), bob)

	// alice broadcasts, bob hears it
	send(srv, aliceAddr, protocol.NewPost(alice, 0, "alice", "hi"))
	to, msg := conn.next(t)
	assert.Equal(t, bobAddr.String(), to.String())
	assert.Equal(t, alice, msg.OriginID)
	assert.Equal(t, "hi", msg.Text)
	conn.expectNone(t)

	// bob whispers to alice, nobody else hears it
	send(srv, bobAddr, protocol.NewPost(bob, alice, "bob", "secret"))
	to, msg = conn.next(t)
	assert.Equal(t, aliceAddr.String(), to.String())
	assert.Equal(t, "secret", msg.Text)
	conn.expectNone(t)

	// alice leaves
	send(srv, aliceAddr, protocol.NewBye(alice, "alice"))
	_, ok := srv.Sessions().Lookup(alice)
	assert.False(t, ok)

	// and can no longer post
	send(srv, aliceAddr, protocol.NewPost(alice, 0, "alice", "still here?"))
	to, msg = conn.next(t)
	assert.Equal(t, aliceAddr.String(), to.String())
	assert.Equal(t, protocol.KindError, msg.Kind)
	assert.Equal(t, ErrTextNotRegistered, msg.Text)
	conn.expectNone(t)
}
