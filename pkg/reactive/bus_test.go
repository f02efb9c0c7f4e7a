package reactive

import "testing"

func TestBusPublishDeliversToAllSubscribers(t *testing.T) {
	b := NewBus[int]()
	var a, c []int
	b.Subscribe(func(v int) { a = append(a, v) }, nil, nil)
	b.Subscribe(func(v int) { c = append(c, v) }, nil, nil)
	b.Publish(1)
	b.Publish(2)
	if len(a) != 2 || a[0] != 1 || a[1] != 2 {
		t.Errorf("subscriber a: want [1 2], got %v", a)
	}
	if len(c) != 2 || c[0] != 1 || c[1] != 2 {
		t.Errorf("subscriber c: want [1 2], got %v", c)
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus[int]()
	var got []int
	unsub := b.Subscribe(func(v int) { got = append(got, v) }, nil, nil)
	b.Publish(1)
	unsub()
	b.Publish(2)
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("want [1], got %v", got)
	}
}

func TestBusCloseFiresOnComplete(t *testing.T) {
	b := NewBus[int]()
	done := false
	b.Subscribe(nil, nil, func() { done = true })
	b.Close()
	if !done {
		t.Error("want onComplete fired on Close")
	}
}

func TestBusErrorFiresOnError(t *testing.T) {
	b := NewBus[int]()
	var gotErr error
	b.Subscribe(nil, func(err error) { gotErr = err }, nil)
	sentinel := errSentinel{}
	b.Error(sentinel)
	if gotErr != sentinel {
		t.Errorf("want sentinel error, got %v", gotErr)
	}
}

func TestBusSubscribeAfterCloseFiresOnCompleteImmediately(t *testing.T) {
	b := NewBus[int]()
	b.Close()
	done := false
	unsub := b.Subscribe(nil, nil, func() { done = true })
	if !done {
		t.Error("want onComplete to fire synchronously for a subscribe after close")
	}
	unsub() // must be a safe no-op
}

func TestBusPublishAfterCloseIsNoop(t *testing.T) {
	b := NewBus[int]()
	var got []int
	b.Subscribe(func(v int) { got = append(got, v) }, nil, nil)
	b.Close()
	b.Publish(5)
	if len(got) != 0 {
		t.Errorf("want no delivery after close, got %v", got)
	}
}

type errSentinel struct{}

func (errSentinel) Error() string { return "sentinel" }
