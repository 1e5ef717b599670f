package eventstream

import (
	"testing"
	"time"
)

func TestNewHub(t *testing.T) {
	h := NewHub()
	if h.clients == nil || h.register == nil || h.unregister == nil || h.broadcast == nil {
		t.Fatal("NewHub should initialize all channels and maps")
	}
}

func TestHubRegisterAndBroadcast(t *testing.T) {
	h := NewHub()
	done := make(chan struct{})
	defer close(done)
	go h.Run(done)

	c := &client{send: make(chan []byte, 4)}
	h.register <- c
	time.Sleep(10 * time.Millisecond)

	h.Publish(EventTaskAssigned, map[string]string{"task_id": "t1"})

	select {
	case msg := <-c.send:
		if len(msg) == 0 {
			t.Fatal("expected non-empty broadcast payload")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	h := NewHub()
	done := make(chan struct{})
	defer close(done)
	go h.Run(done)

	c := &client{send: make(chan []byte, 4)}
	h.register <- c
	time.Sleep(10 * time.Millisecond)

	h.unregister <- c
	time.Sleep(10 * time.Millisecond)

	_, ok := <-c.send
	if ok {
		t.Fatal("expected send channel to be closed after unregister")
	}
}
