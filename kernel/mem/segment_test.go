package mem

import "testing"

func TestSetSegmentsAndVisit(t *testing.T) {
	in := []MemorySegment{
		{Start: 0, Len: Size(0x9FC00), Kind: Reserved},
		{Start: PhysAddr(0x100000), Len: Size(0x7FEF0000), Kind: Available},
	}
	SetSegments(in)

	var got []MemorySegment
	VisitSegments(func(s MemorySegment) { got = append(got, s) })

	if len(got) != len(in) {
		t.Fatalf("expected %d segments; got %d", len(in), len(got))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("[segment %d] expected %+v; got %+v", i, in[i], got[i])
		}
	}
}

func TestSetSegmentsTruncates(t *testing.T) {
	in := make([]MemorySegment, maxSegments+5)
	for i := range in {
		in[i] = MemorySegment{Start: PhysAddr(i), Len: Size(PageSize), Kind: Available}
	}
	SetSegments(in)

	var count int
	VisitSegments(func(MemorySegment) { count++ })

	if count != maxSegments {
		t.Fatalf("expected segment table to cap at %d entries; got %d", maxSegments, count)
	}
}

func TestMemorySegmentUsable(t *testing.T) {
	specs := []struct {
		seg MemorySegment
		exp bool
	}{
		{MemorySegment{Start: 0, Len: 10, Kind: Available}, false},
		{MemorySegment{Start: 1, Len: 10, Kind: Reserved}, false},
		{MemorySegment{Start: 1, Len: 10, Kind: Available}, true},
	}

	for specIndex, spec := range specs {
		if got := spec.seg.Usable(); got != spec.exp {
			t.Errorf("[spec %d] expected Usable() == %t; got %t", specIndex, spec.exp, got)
		}
	}
}
