package lending

import (
	"errors"
	"math/big"
	"testing"
)

func TestPackTokenIDsRoundTrip(t *testing.T) {
	ids := []uint16{1, 2, 65535, 0, 42, 7, 9, 10, 11, 12}
	packed, err := PackTokenIDs(ids)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	got, err := packed.Unpack(len(ids))
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("slot %d: expected %d, got %d", i, ids[i], got[i])
		}
	}
}

func TestPackTokenIDsLayout(t *testing.T) {
	packed, err := PackTokenIDs([]uint16{1})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	want := new(big.Int).Lsh(big.NewInt(1), 144)
	if packed.Big().Cmp(want) != 0 {
		t.Fatalf("expected first id in the top slot, got %s", packed.Hex())
	}

	packed, err = PackTokenIDs([]uint16{0xabcd, 0x1234})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if packed[0] != 0xab || packed[1] != 0xcd || packed[2] != 0x12 || packed[3] != 0x34 {
		t.Fatalf("unexpected byte layout %s", packed.Hex())
	}
	for _, b := range packed[4:] {
		if b != 0 {
			t.Fatalf("unused slots must be zero, got %s", packed.Hex())
		}
	}
}

func TestPackTokenIDsRejectsOverflow(t *testing.T) {
	ids := make([]uint16, MaxSlots+1)
	if _, err := PackTokenIDs(ids); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
	var packed PackedTokenIDs
	if _, err := packed.Unpack(MaxSlots + 1); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams unpacking, got %v", err)
	}
}

func TestPackTokenIDsEmpty(t *testing.T) {
	packed, err := PackTokenIDs(nil)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if packed != (PackedTokenIDs{}) {
		t.Fatalf("expected zero record, got %s", packed.Hex())
	}
}
