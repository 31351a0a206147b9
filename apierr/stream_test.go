package apierr

import "testing"

func TestStream_PublishSubscribe(t *testing.T) {
	s := NewStream()
	defer s.Close()

	ch, cancel := s.Subscribe()
	defer cancel()

	s.Publish(&Error{Kind: KindServer})

	select {
	case e := <-ch:
		if e.Kind != KindServer {
			t.Errorf("Kind = %v, want server", e.Kind)
		}
	default:
		t.Fatal("no record delivered")
	}
}

func TestStream_SilentNotBroadcast(t *testing.T) {
	s := NewStream()
	defer s.Close()

	ch, cancel := s.Subscribe()
	defer cancel()

	s.Publish(&Error{Kind: KindServer, Silent: true})

	select {
	case e := <-ch:
		t.Errorf("received %v, want nothing", e)
	default:
	}
}

func TestStream_CancelStopsDelivery(t *testing.T) {
	s := NewStream()
	defer s.Close()

	ch, cancel := s.Subscribe()
	cancel()
	cancel() // idempotent

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
	s.Publish(&Error{Kind: KindBase}) // must not panic
}

func TestStream_FullSubscriberDoesNotBlock(t *testing.T) {
	s := NewStream()
	defer s.Close()

	_, cancel := s.Subscribe()
	defer cancel()

	// More than buffer capacity; Publish must never block.
	for i := 0; i < subscriberBuffer*2; i++ {
		s.Publish(&Error{Kind: KindBase})
	}
}

func TestStream_SubscribeAfterClose(t *testing.T) {
	s := NewStream()
	s.Close()

	ch, cancel := s.Subscribe()
	defer cancel()
	if _, open := <-ch; open {
		t.Error("channel open after Close")
	}
}
