package pipesubstrate

import (
	"context"
	"testing"
	"time"
)

func TestDialListenRoundTrip(t *testing.T) {
	network := NewNetwork()

	alice, err := New(network)
	if err != nil {
		t.Fatalf("New(alice) error = %v", err)
	}
	bob, err := New(network)
	if err != nil {
		t.Fatalf("New(bob) error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inbound, err := bob.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	clientStream, err := alice.Dial(ctx, bob.ID())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer clientStream.Close()

	select {
	case serverStream := <-inbound:
		if serverStream.RemotePeer() != alice.ID() {
			t.Errorf("RemotePeer() = %q, want %q", serverStream.RemotePeer(), alice.ID())
		}
		defer serverStream.Close()

		go clientStream.Write([]byte("hello"))
		buf := make([]byte, 5)
		if _, err := serverStream.Read(buf); err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if string(buf) != "hello" {
			t.Errorf("Read() = %q, want %q", buf, "hello")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for inbound stream")
	}

	if clientStream.RemotePeer() != bob.ID() {
		t.Errorf("client RemotePeer() = %q, want %q", clientStream.RemotePeer(), bob.ID())
	}
}

func TestDialUnknownPeer(t *testing.T) {
	network := NewNetwork()
	alice, err := New(network)
	if err != nil {
		t.Fatalf("New(alice) error = %v", err)
	}

	_, err = alice.Dial(context.Background(), "0000000000000000000000000000000000000000000000000000000000000000")
	if err == nil {
		t.Error("expected an error dialing an unregistered peer")
	}
}
