package peer

import (
	"testing"
	"time"

	"github.com/qitv/gofetch/internal/clock"
)

func TestRegistryPutGetDelete(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	r := NewRegistry()

	p := New(vc, "198.51.100.4", 51413, true)
	r.Put(p)

	got, ok := r.Get(p.ID())
	if !ok || got != p {
		t.Fatalf("Get(%s) = (%v, %v); want (%v, true)", p.ID(), got, ok, p)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d; want 1", r.Len())
	}

	r.Delete(p.ID())
	if _, ok := r.Get(p.ID()); ok {
		t.Fatalf("peer still present after Delete")
	}
}

func TestRegistrySeeders(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	r := NewRegistry()

	seeder := New(vc, "198.51.100.5", 6881, false)
	seeder.AllocateSessionResource(16384, 16384)
	seeder.SetAllBitfield()
	r.Put(seeder)

	leech := New(vc, "198.51.100.6", 6881, false)
	leech.AllocateSessionResource(16384, 16384)
	r.Put(leech)

	got := r.Seeders()
	if len(got) != 1 || got[0].ID() != seeder.ID() {
		t.Fatalf("Seeders() = %v; want just %s", got, seeder.ID())
	}
}
