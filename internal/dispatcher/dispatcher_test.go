package dispatcher

import "testing"

type fakeDispatcher struct{ n int }

func (f *fakeDispatcher) CountOutstandingUpload(peerID string) int { return f.n }

func TestWeakRefResolvesWhileAlive(t *testing.T) {
	owner := struct{ D Dispatcher }{D: &fakeDispatcher{n: 3}}
	ref := NewWeakRef(&owner.D)

	got := ref.Value()
	if got == nil {
		t.Fatalf("Value() = nil; want live dispatcher")
	}
	if n := got.CountOutstandingUpload("p"); n != 3 {
		t.Fatalf("CountOutstandingUpload = %d; want 3", n)
	}
}

func TestZeroWeakRefIsNil(t *testing.T) {
	var ref WeakRef
	if v := ref.Value(); v != nil {
		t.Fatalf("zero WeakRef.Value() = %v; want nil", v)
	}
}
