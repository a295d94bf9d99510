package eventbus

import "testing"

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: AlertFired, Data: "gpu_temp"})
	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != AlertFired || e.Data != "gpu_temp" || e.Time.IsZero() {
			t.Fatalf("event=%+v", e)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"})
	if e := <-ch; e.Type != "one" {
		t.Fatalf("got %q", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("second event should be dropped, got %q", e.Type)
	default:
	}
	if st := b.Stats(); st.Published != 2 || st.Dropped != 1 || st.Subscribers != 1 {
		t.Fatalf("stats=%+v", st)
	}

	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
	if st := b.Stats(); st.Subscribers != 0 || st.Dropped != 1 {
		t.Fatalf("stats after unsubscribe=%+v", st)
	}
}

func TestPublishNilBus(t *testing.T) {
	t.Parallel()

	Publish(nil, TaskFinished, nil)
}
