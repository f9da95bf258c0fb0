package sessions

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("s1", Handle{})
	u2 := tr.Register("s2", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTracker_CancelAll_CallsCancel(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register("s1", Handle{Cancel: func() { c1.Add(1) }})
	tr.Register("s2", Handle{Cancel: func() { c2.Add(1) }})

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_Disconnect_RoutesByCallConnectionID(t *testing.T) {
	tr := NewTracker()
	var d1, d2 atomic.Int64
	tr.Register("s1", Handle{CallConnectionID: "conn-1", Disconnect: func() { d1.Add(1) }})
	tr.Register("s2", Handle{CallConnectionID: "conn-2", Disconnect: func() { d2.Add(1) }})

	if !tr.Disconnect("conn-2") {
		t.Fatal("expected Disconnect to find conn-2")
	}
	if d1.Load() != 0 || d2.Load() != 1 {
		t.Fatalf("disconnect calls=%d/%d, want 0/1", d1.Load(), d2.Load())
	}

	if tr.Disconnect("conn-unknown") {
		t.Fatal("expected Disconnect to miss unknown connection")
	}
	if tr.Disconnect("") {
		t.Fatal("expected Disconnect to miss empty connection id")
	}
}

func TestTracker_Disconnect_AfterUnregister(t *testing.T) {
	tr := NewTracker()
	var d atomic.Int64
	unregister := tr.Register("s1", Handle{CallConnectionID: "conn-1", Disconnect: func() { d.Add(1) }})
	unregister()

	if tr.Disconnect("conn-1") {
		t.Fatal("expected Disconnect to miss unregistered session")
	}
	if d.Load() != 0 {
		t.Fatalf("disconnect calls=%d, want 0", d.Load())
	}
}
