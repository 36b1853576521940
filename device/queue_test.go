package device

import "testing"

func TestHandshakeQueueEnqueueRespectsCapacity(t *testing.T) {
	q := newHandshakeQueue(2)

	if !q.Enqueue(HandshakeElement{Kind: KindInitHandshake}) {
		t.Fatal("expected first enqueue to succeed")
	}
	if !q.Enqueue(HandshakeElement{Kind: KindInitHandshake}) {
		t.Fatal("expected second enqueue to succeed")
	}
	if q.Enqueue(HandshakeElement{Kind: KindInitHandshake}) {
		t.Fatal("expected third enqueue to be rejected once at capacity")
	}
	if q.Len() != 2 {
		t.Fatalf("expected queue length 2, got %d", q.Len())
	}
}

func TestHandshakeQueueDrainBurstIsFIFO(t *testing.T) {
	q := newHandshakeQueue(8)
	for i := 0; i < 5; i++ {
		q.Enqueue(HandshakeElement{Kind: MessageKind(i)})
	}

	batch := q.DrainBurst(3)
	if len(batch) != 3 {
		t.Fatalf("expected burst of 3, got %d", len(batch))
	}
	for i, elem := range batch {
		if elem.Kind != MessageKind(i) {
			t.Fatalf("expected FIFO order, item %d had kind %v", i, elem.Kind)
		}
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 items remaining, got %d", q.Len())
	}
}

func TestHandshakeQueueSignalsOnEnqueueAndResignalsWhenNotDrained(t *testing.T) {
	q := newHandshakeQueue(8)
	q.Enqueue(HandshakeElement{})
	q.Enqueue(HandshakeElement{})

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal after enqueue")
	}

	q.DrainBurst(1)
	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a re-signal because items remained after a partial drain")
	}

	q.DrainBurst(1)
	select {
	case <-q.Wait():
		t.Fatal("did not expect a signal once the queue is fully drained")
	default:
	}
}
