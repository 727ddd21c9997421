package svm

import (
	"testing"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/accounts"
)

func TestClockSerialization(t *testing.T) {
	clock := Clock{
		Slot:                42,
		EpochStartTimestamp: -100,
		Epoch:               3,
		LeaderScheduleEpoch: 4,
		UnixTimestamp:       1_700_000_000,
	}

	data := clock.Serialize()
	if len(data) != ClockDataLen {
		t.Fatalf("expected %d bytes, got %d", ClockDataLen, len(data))
	}

	decoded, err := DeserializeClock(data)
	if err != nil {
		t.Fatalf("failed to deserialize clock: %v", err)
	}
	if decoded != clock {
		t.Errorf("round trip mismatch: %+v != %+v", decoded, clock)
	}

	if _, err := DeserializeClock(data[:10]); err == nil {
		t.Error("expected error for short data")
	}
}

func TestRentSerialization(t *testing.T) {
	rent := DefaultRent()

	data := rent.Serialize()
	if len(data) != RentDataLen {
		t.Fatalf("expected %d bytes, got %d", RentDataLen, len(data))
	}

	decoded, err := DeserializeRent(data)
	if err != nil {
		t.Fatalf("failed to deserialize rent: %v", err)
	}
	if decoded != rent {
		t.Errorf("round trip mismatch: %+v != %+v", decoded, rent)
	}
}

func TestRentMinimumBalance(t *testing.T) {
	rent := DefaultRent()

	tests := []struct {
		dataLen  uint64
		expected uint64
	}{
		{0, 890_880},     // (128+0) * 3480 * 2
		{165, 2_039_280}, // token account
		{82, 1_461_600},  // mint
	}

	for _, tc := range tests {
		got := rent.MinimumBalance(tc.dataLen)
		if got != tc.expected {
			t.Errorf("MinimumBalance(%d): expected %d, got %d", tc.dataLen, tc.expected, got)
		}
	}
}

func TestWriteSysvars(t *testing.T) {
	store := accounts.NewMemoryStore()
	engine := NewEngine(store)
	engine.SetClock(Clock{Slot: 7, UnixTimestamp: 99})

	if err := engine.WriteClockSysvar(); err != nil {
		t.Fatalf("failed to write clock sysvar: %v", err)
	}
	if err := engine.WriteRentSysvar(); err != nil {
		t.Fatalf("failed to write rent sysvar: %v", err)
	}

	clockAcc, err := store.GetAccount(types.SysvarClockAddr)
	if err != nil {
		t.Fatalf("failed to get clock account: %v", err)
	}
	if clockAcc.Owner != types.SysvarOwnerAddr {
		t.Errorf("wrong clock owner: %s", clockAcc.Owner)
	}
	clock, err := DeserializeClock(clockAcc.Data)
	if err != nil {
		t.Fatalf("failed to decode clock account: %v", err)
	}
	if clock.Slot != 7 || clock.UnixTimestamp != 99 {
		t.Errorf("clock account out of sync: %+v", clock)
	}

	rentAcc, err := store.GetAccount(types.SysvarRentAddr)
	if err != nil {
		t.Fatalf("failed to get rent account: %v", err)
	}
	rent, err := DeserializeRent(rentAcc.Data)
	if err != nil {
		t.Fatalf("failed to decode rent account: %v", err)
	}
	if rent != engine.Rent() {
		t.Errorf("rent account out of sync: %+v", rent)
	}
}
