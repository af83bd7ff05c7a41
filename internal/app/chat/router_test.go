package chat

import (
	"fmt"
	"testing"
	"time"

	"beatrice/internal/app/user"
	"beatrice/internal/crypto"
	"beatrice/internal/pkg/errs"
	"beatrice/internal/protocol"
)

func TestBroadcastExcludesSender(t *testing.T) {
	reg, rt := newRig(testRateLimit)
	key := testPublicKeyPEM(t)

	alice := dialPeer(t, reg, rt)
	alice.handshake("Alice", key)

	bob := dialPeer(t, reg, rt)
	bob.handshake("Bob", key)
	alice.expect(protocol.TypeJoin)

	carol := dialPeer(t, reg, rt)
	carol.handshake("Carol", key)
	alice.expect(protocol.TypeJoin)
	bob.expect(protocol.TypeJoin)

	alice.sendMessage(protocol.RecipientAll, "hello all", "nonce-b1")

	for _, peer := range []*testPeer{bob, carol} {
		msg := peer.expect(protocol.TypeMessage)
		if msg.Sender != "Alice" || msg.Content != "hello all" || msg.Recipient != protocol.RecipientAll {
			t.Errorf("message = %+v, want Alice/hello all/ALL", msg)
		}
	}

	// The sender never receives its own broadcast.
	alice.expectSilence(200 * time.Millisecond)
}

func TestSenderFieldIsServerAuthoritative(t *testing.T) {
	reg, rt := newRig(testRateLimit)
	key := testPublicKeyPEM(t)

	alice := dialPeer(t, reg, rt)
	alice.handshake("Alice", key)

	bob := dialPeer(t, reg, rt)
	bob.handshake("Bob", key)
	alice.expect(protocol.TypeJoin)

	alice.write(&protocol.Packet{
		Type:      protocol.TypeMessage,
		Sender:    "Mallory",
		Recipient: protocol.RecipientAll,
		Timestamp: time.Now().Unix(),
		Nonce:     "nonce-spoof",
		Content:   "trust me",
	})

	msg := bob.expect(protocol.TypeMessage)
	if msg.Sender != "Alice" {
		t.Errorf("sender = %q, want the registered nickname Alice", msg.Sender)
	}
}

func TestDirectMessageForwardedOpaque(t *testing.T) {
	reg, rt := newRig(testRateLimit)

	bobKeys, err := crypto.NewKeyStore()
	if err != nil {
		t.Fatalf("NewKeyStore() error = %v", err)
	}

	alice := dialPeer(t, reg, rt)
	alice.handshake("Alice", testPublicKeyPEM(t))

	bob := dialPeer(t, reg, rt)
	bob.handshake("Bob", bobKeys.PublicKeyPEM())
	join := alice.expect(protocol.TypeJoin)

	// Alice encrypts against the key announced in Bob's join.
	bobPub, err := crypto.ParsePublicKeyPEM(join.Key)
	if err != nil {
		t.Fatalf("ParsePublicKeyPEM() error = %v", err)
	}
	env, err := crypto.EncryptDirect(bobPub, []byte("between us"))
	if err != nil {
		t.Fatalf("EncryptDirect() error = %v", err)
	}

	alice.write(&protocol.Packet{
		Type:      protocol.TypeMessage,
		Recipient: "Bob",
		Timestamp: time.Now().Unix(),
		Nonce:     "nonce-dm1",
		Encrypted: env,
	})

	msg := bob.expect(protocol.TypeMessage)
	if msg.Sender != "Alice" || msg.Recipient != "Bob" {
		t.Fatalf("message = %+v, want Alice to Bob", msg)
	}
	if msg.Content != "" {
		t.Errorf("direct message carried cleartext content %q", msg.Content)
	}
	if msg.Encrypted == nil || *msg.Encrypted != *env {
		t.Fatalf("envelope = %+v, want the sender's envelope untouched", msg.Encrypted)
	}

	plaintext, err := bobKeys.Decrypt(msg.Encrypted)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(plaintext) != "between us" {
		t.Errorf("Decrypt() = %q, want %q", plaintext, "between us")
	}
}

func TestUnknownRecipientAnsweredWithError(t *testing.T) {
	reg, rt := newRig(testRateLimit)

	alice := dialPeer(t, reg, rt)
	alice.handshake("Alice", testPublicKeyPEM(t))

	alice.sendMessage("Nobody", "anyone there", "nonce-ur1")

	errPkt := alice.expect(protocol.TypeError)
	if errPkt.Code != errs.ErrUnknownRecipient {
		t.Errorf("error code = %d, want %d", errPkt.Code, errs.ErrUnknownRecipient)
	}

	// The session is not penalized; a valid send still works.
	if reg.Len() != 1 {
		t.Errorf("registry size = %d, want 1", reg.Len())
	}
}

func TestMessageWithoutNonceOrTimestampRejected(t *testing.T) {
	tests := []struct {
		name string
		pkt  protocol.Packet
	}{
		{"missing nonce", protocol.Packet{Type: protocol.TypeMessage, Recipient: protocol.RecipientAll, Timestamp: time.Now().Unix(), Content: "x"}},
		{"missing timestamp", protocol.Packet{Type: protocol.TypeMessage, Recipient: protocol.RecipientAll, Nonce: "nonce-mt1", Content: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, rt := newRig(testRateLimit)
			alice := dialPeer(t, reg, rt)
			alice.handshake("Alice", testPublicKeyPEM(t))

			alice.write(&tt.pkt)

			errPkt := alice.expect(protocol.TypeError)
			if errPkt.Code != errs.ErrMalformedFrame {
				t.Errorf("error code = %d, want %d", errPkt.Code, errs.ErrMalformedFrame)
			}
		})
	}
}

func TestStaleTimestampRejected(t *testing.T) {
	reg, rt := newRig(testRateLimit)
	key := testPublicKeyPEM(t)

	alice := dialPeer(t, reg, rt)
	alice.handshake("Alice", key)

	bob := dialPeer(t, reg, rt)
	bob.handshake("Bob", key)
	alice.expect(protocol.TypeJoin)

	alice.write(&protocol.Packet{
		Type:      protocol.TypeMessage,
		Recipient: protocol.RecipientAll,
		Timestamp: time.Now().Add(-user.ReplayWindow - 10*time.Second).Unix(),
		Nonce:     "nonce-stale",
		Content:   "from the past",
	})

	errPkt := alice.expect(protocol.TypeError)
	if errPkt.Code != errs.ErrStaleTimestamp {
		t.Errorf("error code = %d, want %d", errPkt.Code, errs.ErrStaleTimestamp)
	}
	bob.expectSilence(200 * time.Millisecond)
}

func TestDuplicateNonceRejected(t *testing.T) {
	reg, rt := newRig(testRateLimit)
	key := testPublicKeyPEM(t)

	alice := dialPeer(t, reg, rt)
	alice.handshake("Alice", key)

	bob := dialPeer(t, reg, rt)
	bob.handshake("Bob", key)
	alice.expect(protocol.TypeJoin)

	alice.sendMessage(protocol.RecipientAll, "first", "nonce-dup")
	msg := bob.expect(protocol.TypeMessage)
	if msg.Content != "first" {
		t.Fatalf("content = %q, want first", msg.Content)
	}

	alice.sendMessage(protocol.RecipientAll, "replayed", "nonce-dup")

	errPkt := alice.expect(protocol.TypeError)
	if errPkt.Code != errs.ErrDuplicateNonce {
		t.Errorf("error code = %d, want %d", errPkt.Code, errs.ErrDuplicateNonce)
	}
	bob.expectSilence(200 * time.Millisecond)
}

func TestRateCeilingAnsweredWithError(t *testing.T) {
	const limit = 3
	reg, rt := newRig(limit)
	key := testPublicKeyPEM(t)

	alice := dialPeer(t, reg, rt)
	alice.handshake("Alice", key)

	bob := dialPeer(t, reg, rt)
	bob.handshake("Bob", key)
	alice.expect(protocol.TypeJoin)

	for i := 0; i < limit; i++ {
		alice.sendMessage(protocol.RecipientAll, "burst", fmt.Sprintf("nonce-rate-%d", i))
		bob.expect(protocol.TypeMessage)
	}

	alice.sendMessage(protocol.RecipientAll, "one too many", "nonce-rate-over")

	errPkt := alice.expect(protocol.TypeError)
	if errPkt.Code != errs.ErrRateLimited {
		t.Errorf("error code = %d, want %d", errPkt.Code, errs.ErrRateLimited)
	}
	bob.expectSilence(200 * time.Millisecond)

	// Throttling is an ERROR, not a disconnect.
	if reg.Len() != 2 {
		t.Errorf("registry size = %d, want 2", reg.Len())
	}
}

func TestConcurrentBroadcastsAllDelivered(t *testing.T) {
	const peers = 4
	const perPeer = 5

	reg, rt := newRig(testRateLimit)
	key := testPublicKeyPEM(t)

	all := make([]*testPeer, 0, peers)
	for i := 0; i < peers; i++ {
		p := dialPeer(t, reg, rt)
		p.handshake(fmt.Sprintf("peer%d", i), key)
		for _, earlier := range all {
			earlier.expect(protocol.TypeJoin)
		}
		all = append(all, p)
	}

	done := make(chan int, peers)
	for i, p := range all {
		go func(i int, p *testPeer) {
			received := 0
			p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			for received < (peers-1)*perPeer {
				line, err := p.r.ReadBytes('\n')
				if err != nil {
					break
				}
				pkt, err := protocol.Decode(line)
				if err == nil && pkt.Type == protocol.TypeMessage {
					received++
				}
			}
			done <- received
		}(i, p)
	}

	for i, p := range all {
		go func(i int, p *testPeer) {
			for n := 0; n < perPeer; n++ {
				frame, _ := protocol.Encode(&protocol.Packet{
					Type:      protocol.TypeMessage,
					Recipient: protocol.RecipientAll,
					Timestamp: time.Now().Unix(),
					Nonce:     fmt.Sprintf("nonce-c-%d-%d", i, n),
					Content:   "load",
				})
				p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				p.conn.Write(frame)
			}
		}(i, p)
	}

	for i := 0; i < peers; i++ {
		if got := <-done; got != (peers-1)*perPeer {
			t.Errorf("peer received %d messages, want %d", got, (peers-1)*perPeer)
		}
	}
}
