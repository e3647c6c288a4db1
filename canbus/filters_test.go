package canbus

import "testing"

func TestFilters_Basics(t *testing.T) {
	f1 := MustFrame(0x100, []byte{1})
	f2 := MustFrame(0x101, []byte{2})
	f3 := Frame{ID: 0x1ABCDEFF, Extended: true, Len: 0}

	if !ByID(0x100)(f1) || ByID(0x100)(f2) {
		t.Fatalf("ByID failure")
	}
	if !(ByIDs(0x100, 0x102)(f1)) || ByIDs(0x100, 0x102)(f2) {
		t.Fatalf("ByIDs failure")
	}
	if !ByRange(0x100, 0x1FF)(f2) || ByRange(0x200, 0x2FF)(f2) {
		t.Fatalf("ByRange failure")
	}
	if !ByRange(0x1FF, 0x100)(f2) {
		t.Fatalf("ByRange should accept swapped bounds")
	}
	// Mask over all 11 standard bits distinguishes 0x100 from 0x101.
	if !ByMask(0x100, 0x7FF)(f1) || ByMask(0x100, 0x7FF)(f2) {
		t.Fatalf("ByMask failure")
	}
	// Function-code mask ignores the node bits.
	if !ByMask(0x580, 0x780)(MustFrame(0x581, nil)) || ByMask(0x580, 0x780)(MustFrame(0x601, nil)) {
		t.Fatalf("ByMask function code failure")
	}
	if !StandardOnly()(f1) || StandardOnly()(f3) {
		t.Fatalf("StandardOnly failure")
	}
	if !ExtendedOnly()(f3) || ExtendedOnly()(f1) {
		t.Fatalf("ExtendedOnly failure")
	}
	data := f1
	rtr := f1
	rtr.RTR = true
	if !DataOnly()(data) || DataOnly()(rtr) {
		t.Fatalf("DataOnly failure")
	}
	if !RTROnly()(rtr) || RTROnly()(data) {
		t.Fatalf("RTROnly failure")
	}
	if !LenAtLeast(1)(f1) || LenAtLeast(2)(f1) {
		t.Fatalf("LenAtLeast failure")
	}
	if !LenAtMost(1)(f1) || LenAtMost(0)(f1) {
		t.Fatalf("LenAtMost failure")
	}
	if !LenExactly(1)(f1) || LenExactly(0)(f1) {
		t.Fatalf("LenExactly failure")
	}
}

func TestFilters_Combinators(t *testing.T) {
	f1 := MustFrame(0x100, []byte{1})
	rtr := f1
	rtr.RTR = true

	if !And(ByID(0x100), DataOnly())(f1) || And(ByID(0x100), DataOnly())(rtr) {
		t.Fatalf("And failure")
	}
	if !And(nil, ByID(0x100))(f1) {
		t.Fatalf("And should skip nil filters")
	}
	if And() != nil || And(nil, nil) != nil {
		t.Fatalf("And of no filters should be nil (match all)")
	}
	if !Or(ByID(0x100), ByID(0x999))(f1) || Or(ByID(0x999), ByID(0x998))(f1) {
		t.Fatalf("Or failure")
	}
	if !Or(nil, ByID(0x100))(f1) {
		t.Fatalf("Or with nil should use the other filter")
	}
	if Not(ByID(0x100))(f1) || !Not(ByID(0x999))(f1) {
		t.Fatalf("Not failure")
	}
	if Not(nil)(f1) {
		t.Fatalf("Not(nil) should match nothing")
	}
}
