package chat

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"beatrice/internal/crypto"
	"beatrice/internal/pkg/errs"
	"beatrice/internal/protocol"
	"beatrice/internal/transport"
)

const testRateLimit = 60

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

var (
	sharedKeyOnce sync.Once
	sharedKeyPEM  string
)

// testPublicKeyPEM returns a PEM public key shared across tests that do not
// care about the key material, so each test does not pay for key generation.
func testPublicKeyPEM(t *testing.T) string {
	t.Helper()
	sharedKeyOnce.Do(func() {
		key, err := crypto.GenerateKeyPair()
		if err != nil {
			panic(err)
		}
		sharedKeyPEM, err = crypto.EncodePublicKeyPEM(&key.PublicKey)
		if err != nil {
			panic(err)
		}
	})
	return sharedKeyPEM
}

func newRig(rateLimit int) (*Registry, *Router) {
	reg := NewRegistry(rateLimit)
	return reg, NewRouter(reg)
}

// testPeer drives the client end of an in-memory chat connection whose server
// end is a live Session goroutine.
type testPeer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	sess *Session
}

func dialPeer(t *testing.T, reg *Registry, rt *Router) *testPeer {
	t.Helper()

	clientEnd, serverEnd := net.Pipe()
	sess := NewSession(transport.NewTCPConn(serverEnd), reg, rt)
	go sess.Run()

	t.Cleanup(func() { clientEnd.Close() })

	return &testPeer{t: t, conn: clientEnd, r: bufio.NewReader(clientEnd), sess: sess}
}

func (p *testPeer) writeRaw(raw []byte) {
	p.t.Helper()

	p.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := p.conn.Write(raw); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

func (p *testPeer) write(pkt *protocol.Packet) {
	p.t.Helper()

	frame, err := protocol.Encode(pkt)
	if err != nil {
		p.t.Fatalf("encode: %v", err)
	}
	p.writeRaw(frame)
}

func (p *testPeer) read() *protocol.Packet {
	p.t.Helper()

	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := p.r.ReadBytes('\n')
	if err != nil {
		p.t.Fatalf("read: %v", err)
	}

	pkt, err := protocol.Decode(line)
	if err != nil {
		p.t.Fatalf("decode %q: %v", line, err)
	}
	return pkt
}

func (p *testPeer) expect(want protocol.Type) *protocol.Packet {
	p.t.Helper()

	pkt := p.read()
	if pkt.Type != want {
		p.t.Fatalf("received %s packet %+v, want %s", pkt.Type, pkt, want)
	}
	return pkt
}

// expectSilence fails if any frame arrives within the given span.
func (p *testPeer) expectSilence(d time.Duration) {
	p.t.Helper()

	p.conn.SetReadDeadline(time.Now().Add(d))
	b, err := p.r.ReadByte()
	if err == nil {
		p.t.Fatalf("expected no traffic, got byte %q", b)
	}
	if nerr, ok := err.(net.Error); !ok || !nerr.Timeout() {
		p.t.Fatalf("expected read timeout, got %v", err)
	}
}

// expectClosed fails unless the server end has closed the connection.
func (p *testPeer) expectClosed() {
	p.t.Helper()

	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := p.r.ReadByte(); err == nil {
		p.t.Fatal("connection still open, want closed")
	} else if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		p.t.Fatal("connection still open, want closed")
	}
}

// handshake completes the join flow and returns the DIR snapshot.
func (p *testPeer) handshake(nickname, key string) *protocol.Packet {
	p.t.Helper()

	p.write(&protocol.Packet{Type: protocol.TypeHandshake, Nickname: nickname, Key: key})
	return p.expect(protocol.TypeDirectory)
}

func (p *testPeer) sendMessage(recipient, content, nonce string) {
	p.t.Helper()

	p.write(&protocol.Packet{
		Type:      protocol.TypeMessage,
		Recipient: recipient,
		Timestamp: time.Now().Unix(),
		Nonce:     nonce,
		Content:   content,
	})
}

func TestHandshakeAndDirectory(t *testing.T) {
	reg, rt := newRig(testRateLimit)
	key := testPublicKeyPEM(t)

	alice := dialPeer(t, reg, rt)
	dir := alice.handshake("Alice", key)
	if len(dir.Users) != 0 {
		t.Errorf("first joiner directory has %d users, want 0", len(dir.Users))
	}

	bob := dialPeer(t, reg, rt)
	dir = bob.handshake("Bob", key)
	if len(dir.Users) != 1 || dir.Users[0].Nickname != "Alice" || dir.Users[0].Key != key {
		t.Errorf("directory = %+v, want [Alice with handshake key]", dir.Users)
	}

	join := alice.expect(protocol.TypeJoin)
	if join.Nickname != "Bob" || join.Key != key {
		t.Errorf("join = %+v, want Bob with handshake key", join)
	}

	if reg.Len() != 2 {
		t.Errorf("registry size = %d, want 2", reg.Len())
	}
}

func TestHandshakeRejections(t *testing.T) {
	validKey := testPublicKeyPEM(t)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"not json", []byte("hello\n")},
		{"wrong first packet type", mustEncode(t, &protocol.Packet{Type: protocol.TypeMessage, Recipient: "ALL", Content: "hi"})},
		{"missing key", mustEncode(t, &protocol.Packet{Type: protocol.TypeHandshake, Nickname: "Alice"})},
		{"missing nickname", mustEncode(t, &protocol.Packet{Type: protocol.TypeHandshake, Key: validKey})},
		{"nickname with spaces", mustEncode(t, &protocol.Packet{Type: protocol.TypeHandshake, Nickname: "Alice Smith", Key: validKey})},
		{"broadcast address as nickname", mustEncode(t, &protocol.Packet{Type: protocol.TypeHandshake, Nickname: "ALL", Key: validKey})},
		{"garbage key", mustEncode(t, &protocol.Packet{Type: protocol.TypeHandshake, Nickname: "Alice", Key: "not a key"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, rt := newRig(testRateLimit)
			peer := dialPeer(t, reg, rt)

			peer.writeRaw(tt.frame)
			peer.expectClosed()

			if reg.Len() != 0 {
				t.Errorf("registry size = %d, want 0", reg.Len())
			}
		})
	}
}

func TestNicknameCollisionGetsSuffix(t *testing.T) {
	reg, rt := newRig(testRateLimit)
	key := testPublicKeyPEM(t)

	first := dialPeer(t, reg, rt)
	first.handshake("Bob", key)

	second := dialPeer(t, reg, rt)
	dir := second.handshake("Bob", key)
	if len(dir.Users) != 1 || dir.Users[0].Nickname != "Bob" {
		t.Fatalf("directory = %+v, want [Bob]", dir.Users)
	}

	// The original Bob learns the newcomer's assigned name from the join.
	join := first.expect(protocol.TypeJoin)
	if !regexp.MustCompile(`^Bob#\d{3}$`).MatchString(join.Nickname) {
		t.Errorf("assigned nickname = %q, want Bob#NNN", join.Nickname)
	}

	if reg.Len() != 2 {
		t.Errorf("registry size = %d, want 2", reg.Len())
	}
	if reg.Lookup(join.Nickname) == nil {
		t.Errorf("suffixed nickname %q not registered", join.Nickname)
	}
}

func TestLeaveBroadcastExactlyOnce(t *testing.T) {
	reg, rt := newRig(testRateLimit)
	key := testPublicKeyPEM(t)

	alice := dialPeer(t, reg, rt)
	alice.handshake("Alice", key)

	bob := dialPeer(t, reg, rt)
	bob.handshake("Bob", key)
	alice.expect(protocol.TypeJoin)

	bob.conn.Close()

	leave := alice.expect(protocol.TypeLeave)
	if leave.Nickname != "Bob" {
		t.Errorf("leave = %q, want Bob", leave.Nickname)
	}

	// Racing a second teardown must not produce a second L.
	bob.sess.cleanup()
	alice.expectSilence(200 * time.Millisecond)

	if reg.Len() != 1 {
		t.Errorf("registry size = %d, want 1", reg.Len())
	}
}

func TestMalformedFrameKeepsSessionAlive(t *testing.T) {
	reg, rt := newRig(testRateLimit)
	key := testPublicKeyPEM(t)

	alice := dialPeer(t, reg, rt)
	alice.handshake("Alice", key)

	bob := dialPeer(t, reg, rt)
	bob.handshake("Bob", key)
	alice.expect(protocol.TypeJoin)

	alice.writeRaw([]byte("this is not json\n"))

	errPkt := alice.expect(protocol.TypeError)
	if errPkt.Code != errs.ErrMalformedFrame {
		t.Errorf("error code = %d, want %d", errPkt.Code, errs.ErrMalformedFrame)
	}

	// The session survives and keeps routing.
	alice.sendMessage(protocol.RecipientAll, "still here", "nonce-1")

	msg := bob.expect(protocol.TypeMessage)
	if msg.Sender != "Alice" || msg.Content != "still here" {
		t.Errorf("message = %+v, want Alice/still here", msg)
	}
	if reg.Len() != 2 {
		t.Errorf("registry size = %d, want 2", reg.Len())
	}
}

func TestOversizedFrameClosesSessionWithError(t *testing.T) {
	reg, rt := newRig(testRateLimit)

	alice := dialPeer(t, reg, rt)
	alice.handshake("Alice", testPublicKeyPEM(t))

	// One line larger than the frame ceiling. The tail of the write may be
	// refused once the server gives up on the line; only delivery of the
	// leading MaxFrameSize bytes matters.
	oversized := bytes.Repeat([]byte("a"), protocol.MaxFrameSize+16)
	oversized[len(oversized)-1] = '\n'
	alice.conn.SetWriteDeadline(time.Now().Add(500 * time.Millisecond))
	alice.conn.Write(oversized)

	errPkt := alice.expect(protocol.TypeError)
	if errPkt.Code != errs.ErrFrameTooLarge {
		t.Errorf("error code = %d, want %d", errPkt.Code, errs.ErrFrameTooLarge)
	}

	alice.expectClosed()

	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if reg.Len() != 0 {
		t.Errorf("registry size = %d, want 0", reg.Len())
	}
}

func TestUnexpectedPacketTypesRejected(t *testing.T) {
	reg, rt := newRig(testRateLimit)
	key := testPublicKeyPEM(t)

	alice := dialPeer(t, reg, rt)
	alice.handshake("Alice", key)

	bob := dialPeer(t, reg, rt)
	bob.handshake("Bob", key)
	alice.expect(protocol.TypeJoin)

	// A second handshake is answered with an ERROR and changes nothing.
	alice.write(&protocol.Packet{Type: protocol.TypeHandshake, Nickname: "Alice2", Key: key})
	rej := alice.expect(protocol.TypeError)
	if rej.Code != errs.ErrUnexpectedPacket {
		t.Errorf("second handshake code = %d, want %d", rej.Code, errs.ErrUnexpectedPacket)
	}
	bob.expectSilence(200 * time.Millisecond)
	if reg.Lookup("Alice2") != nil {
		t.Error("second handshake re-registered the session")
	}

	// Server-only and unknown types get the same rejection.
	for _, typ := range []protocol.Type{protocol.TypeJoin, "BOGUS"} {
		alice.write(&protocol.Packet{Type: typ, Nickname: "Alice"})
		rej = alice.expect(protocol.TypeError)
		if rej.Code != errs.ErrUnexpectedPacket {
			t.Errorf("%s packet code = %d, want %d", typ, rej.Code, errs.ErrUnexpectedPacket)
		}
	}

	// The session stays registered and routable throughout.
	alice.sendMessage(protocol.RecipientAll, "after rehandshake", "nonce-h2")
	msg := bob.expect(protocol.TypeMessage)
	if msg.Sender != "Alice" {
		t.Errorf("sender = %q, want Alice", msg.Sender)
	}
}

func TestKeyReannouncement(t *testing.T) {
	reg, rt := newRig(testRateLimit)
	key := testPublicKeyPEM(t)

	alice := dialPeer(t, reg, rt)
	alice.handshake("Alice", key)

	bob := dialPeer(t, reg, rt)
	bob.handshake("Bob", key)
	alice.expect(protocol.TypeJoin)

	fresh, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	freshPEM, err := crypto.EncodePublicKeyPEM(&fresh.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKeyPEM() error = %v", err)
	}

	alice.write(&protocol.Packet{Type: protocol.TypeKey, Key: freshPEM})

	keyPkt := bob.expect(protocol.TypeKey)
	if keyPkt.Nickname != "Alice" || keyPkt.Key != freshPEM {
		t.Errorf("key announcement = %+v, want Alice with fresh key", keyPkt)
	}

	if got := reg.Lookup("Alice").user.Key; got != freshPEM {
		t.Errorf("stored key not replaced")
	}

	// An invalid re-announcement is rejected without touching the entry.
	alice.write(&protocol.Packet{Type: protocol.TypeKey, Key: "garbage"})
	errPkt := alice.expect(protocol.TypeError)
	if errPkt.Code != errs.ErrInvalidPublicKey {
		t.Errorf("error code = %d, want %d", errPkt.Code, errs.ErrInvalidPublicKey)
	}
	if got := reg.Lookup("Alice").user.Key; got != freshPEM {
		t.Errorf("stored key replaced by invalid announcement")
	}
}

func mustEncode(t *testing.T, pkt *protocol.Packet) []byte {
	t.Helper()

	frame, err := protocol.Encode(pkt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return frame
}
