package svm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/accounts"
)

// Sysvar account data sizes.
const (
	ClockDataLen = 40
	RentDataLen  = 17
)

// Clock mirrors the clock sysvar: the slot and timestamps instructions
// observe during execution.
type Clock struct {
	Slot                uint64
	EpochStartTimestamp int64
	Epoch               uint64
	LeaderScheduleEpoch uint64
	UnixTimestamp       int64
}

// DefaultClock returns the clock a fresh testbench starts at.
func DefaultClock() Clock {
	return Clock{
		Slot:                0,
		EpochStartTimestamp: 0,
		Epoch:               0,
		LeaderScheduleEpoch: 0,
		UnixTimestamp:       0,
	}
}

// Serialize encodes the clock in its sysvar account layout: five
// little-endian 8-byte fields.
func (c Clock) Serialize() []byte {
	buf := make([]byte, ClockDataLen)
	binary.LittleEndian.PutUint64(buf[0:8], c.Slot)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(c.EpochStartTimestamp))
	binary.LittleEndian.PutUint64(buf[16:24], c.Epoch)
	binary.LittleEndian.PutUint64(buf[24:32], c.LeaderScheduleEpoch)
	binary.LittleEndian.PutUint64(buf[32:40], uint64(c.UnixTimestamp))
	return buf
}

// DeserializeClock decodes a clock sysvar account's data.
func DeserializeClock(data []byte) (Clock, error) {
	if len(data) < ClockDataLen {
		return Clock{}, fmt.Errorf("clock sysvar data too short: %d bytes", len(data))
	}
	return Clock{
		Slot:                binary.LittleEndian.Uint64(data[0:8]),
		EpochStartTimestamp: int64(binary.LittleEndian.Uint64(data[8:16])),
		Epoch:               binary.LittleEndian.Uint64(data[16:24]),
		LeaderScheduleEpoch: binary.LittleEndian.Uint64(data[24:32]),
		UnixTimestamp:       int64(binary.LittleEndian.Uint64(data[32:40])),
	}, nil
}

// Rent mirrors the rent sysvar: the parameters that decide how many lamports
// an account of a given size needs to live rent-free.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
	BurnPercent         uint8
}

// DefaultRent returns the mainnet rent parameters.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: 3_480,
		ExemptionThreshold:  2.0,
		BurnPercent:         50,
	}
}

// MinimumBalance returns the rent-exempt minimum for an account holding
// dataLen bytes. Every account carries 128 bytes of metadata overhead.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	bytes := 128 + dataLen
	return uint64(float64(bytes*r.LamportsPerByteYear) * r.ExemptionThreshold)
}

// Serialize encodes the rent in its sysvar account layout: u64 rate, f64
// threshold, u8 burn percent, all little-endian.
func (r Rent) Serialize() []byte {
	buf := make([]byte, RentDataLen)
	binary.LittleEndian.PutUint64(buf[0:8], r.LamportsPerByteYear)
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(r.ExemptionThreshold))
	buf[16] = r.BurnPercent
	return buf
}

// DeserializeRent decodes a rent sysvar account's data.
func DeserializeRent(data []byte) (Rent, error) {
	if len(data) < RentDataLen {
		return Rent{}, fmt.Errorf("rent sysvar data too short: %d bytes", len(data))
	}
	return Rent{
		LamportsPerByteYear: binary.LittleEndian.Uint64(data[0:8]),
		ExemptionThreshold:  math.Float64frombits(binary.LittleEndian.Uint64(data[8:16])),
		BurnPercent:         data[16],
	}, nil
}

// WriteClockSysvar materializes the engine's clock into its sysvar account so
// programs that read the account see the same values the engine reports.
func (e *Engine) WriteClockSysvar() error {
	data := e.clock.Serialize()
	return e.store.SetAccount(types.SysvarClockAddr, &accounts.Account{
		Lamports: e.rent.MinimumBalance(uint64(len(data))),
		Data:     data,
		Owner:    types.SysvarOwnerAddr,
	})
}

// WriteRentSysvar materializes the engine's rent parameters into their sysvar
// account.
func (e *Engine) WriteRentSysvar() error {
	data := e.rent.Serialize()
	return e.store.SetAccount(types.SysvarRentAddr, &accounts.Account{
		Lamports: e.rent.MinimumBalance(uint64(len(data))),
		Data:     data,
		Owner:    types.SysvarOwnerAddr,
	})
}
