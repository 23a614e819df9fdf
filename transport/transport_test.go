package transport

import "testing"

func TestShouldInitiateConnectionToExactlyOneSide(t *testing.T) {
	for local := uint32(1); local <= 8; local++ {
		for peer := uint32(1); peer <= 8; peer++ {
			if local == peer {
				continue
			}
			a := shouldInitiateConnectionTo(local, peer)
			b := shouldInitiateConnectionTo(peer, local)
			if a == b {
				t.Fatalf("pair (%d,%d): both sides agree (%v), expected exactly one initiator", local, peer, a)
			}
		}
	}
}

func TestShouldInitiateConnectionToEvenSumLowerIDInitiates(t *testing.T) {
	// (2+4) % 2 == 0: the lower id initiates.
	if !shouldInitiateConnectionTo(2, 4) {
		t.Fatal("expected node 2 (lower id, even sum) to initiate toward node 4")
	}
	if shouldInitiateConnectionTo(4, 2) {
		t.Fatal("expected node 4 not to initiate toward node 2")
	}
}

func TestShouldInitiateConnectionToOddSumHigherIDInitiates(t *testing.T) {
	// (2+3) % 2 == 1: the higher id initiates.
	if !shouldInitiateConnectionTo(3, 2) {
		t.Fatal("expected node 3 (higher id, odd sum) to initiate toward node 2")
	}
	if shouldInitiateConnectionTo(2, 3) {
		t.Fatal("expected node 2 not to initiate toward node 3")
	}
}

func TestFlattenConcatenatesInOrder(t *testing.T) {
	got := flatten([][]byte{{1, 2}, {}, {3}, {4, 5, 6}})
	want := []byte{1, 2, 3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d mismatch: got %v want %v", i, got, want)
		}
	}
}
