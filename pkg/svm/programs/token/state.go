package token

import (
	"encoding/binary"
	"errors"

	"github.com/fortiblox/X1-Testbench/internal/types"
)

// Packed state sizes.
const (
	MintLen    = 82
	AccountLen = 165
)

// AccountState is the token account lifecycle state.
type AccountState uint8

const (
	AccountStateUninitialized AccountState = iota
	AccountStateInitialized
	AccountStateFrozen
)

// ErrInvalidState is returned when packed state bytes are malformed.
var ErrInvalidState = errors.New("invalid token state data")

// Mint is the unpacked SPL mint state.
type Mint struct {
	// MintAuthority may mint new tokens; nil means the supply is fixed.
	MintAuthority *types.Pubkey

	// Supply is the total circulating amount in base units.
	Supply uint64

	// Decimals positions the decimal point for display.
	Decimals uint8

	// Initialized is set once InitializeMint has run.
	Initialized bool

	// FreezeAuthority may freeze token accounts of this mint.
	FreezeAuthority *types.Pubkey
}

// Pack encodes the mint into its 82-byte SPL layout.
func (m *Mint) Pack() []byte {
	buf := make([]byte, MintLen)
	packCOptionPubkey(buf[0:36], m.MintAuthority)
	binary.LittleEndian.PutUint64(buf[36:44], m.Supply)
	buf[44] = m.Decimals
	if m.Initialized {
		buf[45] = 1
	}
	packCOptionPubkey(buf[46:82], m.FreezeAuthority)
	return buf
}

// UnpackMint decodes an 82-byte SPL mint. Initialization is not checked;
// callers decide whether an uninitialized mint is acceptable.
func UnpackMint(data []byte) (*Mint, error) {
	if len(data) != MintLen {
		return nil, ErrInvalidState
	}

	authority, err := unpackCOptionPubkey(data[0:36])
	if err != nil {
		return nil, err
	}
	freeze, err := unpackCOptionPubkey(data[46:82])
	if err != nil {
		return nil, err
	}
	if data[45] > 1 {
		return nil, ErrInvalidState
	}

	return &Mint{
		MintAuthority:   authority,
		Supply:          binary.LittleEndian.Uint64(data[36:44]),
		Decimals:        data[44],
		Initialized:     data[45] == 1,
		FreezeAuthority: freeze,
	}, nil
}

// TokenAccount is the unpacked SPL token account state.
type TokenAccount struct {
	// Mint this account holds balances of.
	Mint types.Pubkey

	// Owner may transfer, burn, and close the account.
	Owner types.Pubkey

	// Amount is the balance in base units.
	Amount uint64

	// Delegate is carried in the layout but unused by the testbench's
	// owner-authority model.
	Delegate *types.Pubkey

	// State is the lifecycle state.
	State AccountState

	// IsNative marks a wrapped-native account whose Amount mirrors its
	// lamports above NativeReserve.
	IsNative bool

	// NativeReserve is the lamport floor excluded from Amount. Only
	// meaningful when IsNative is set.
	NativeReserve uint64

	// DelegatedAmount is carried in the layout but unused.
	DelegatedAmount uint64

	// CloseAuthority may close the account instead of Owner; nil defers
	// to Owner.
	CloseAuthority *types.Pubkey
}

// Pack encodes the token account into its 165-byte SPL layout.
func (a *TokenAccount) Pack() []byte {
	buf := make([]byte, AccountLen)
	copy(buf[0:32], a.Mint[:])
	copy(buf[32:64], a.Owner[:])
	binary.LittleEndian.PutUint64(buf[64:72], a.Amount)
	packCOptionPubkey(buf[72:108], a.Delegate)
	buf[108] = byte(a.State)
	if a.IsNative {
		binary.LittleEndian.PutUint32(buf[109:113], 1)
		binary.LittleEndian.PutUint64(buf[113:121], a.NativeReserve)
	}
	binary.LittleEndian.PutUint64(buf[121:129], a.DelegatedAmount)
	packCOptionPubkey(buf[129:165], a.CloseAuthority)
	return buf
}

// UnpackTokenAccount decodes a 165-byte SPL token account. State is not
// checked; callers decide whether an uninitialized account is acceptable.
func UnpackTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) != AccountLen {
		return nil, ErrInvalidState
	}

	delegate, err := unpackCOptionPubkey(data[72:108])
	if err != nil {
		return nil, err
	}
	closeAuth, err := unpackCOptionPubkey(data[129:165])
	if err != nil {
		return nil, err
	}
	if data[108] > byte(AccountStateFrozen) {
		return nil, ErrInvalidState
	}

	nativeTag := binary.LittleEndian.Uint32(data[109:113])
	if nativeTag > 1 {
		return nil, ErrInvalidState
	}

	acc := &TokenAccount{
		Amount:          binary.LittleEndian.Uint64(data[64:72]),
		Delegate:        delegate,
		State:           AccountState(data[108]),
		IsNative:        nativeTag == 1,
		NativeReserve:   binary.LittleEndian.Uint64(data[113:121]),
		DelegatedAmount: binary.LittleEndian.Uint64(data[121:129]),
		CloseAuthority:  closeAuth,
	}
	copy(acc.Mint[:], data[0:32])
	copy(acc.Owner[:], data[32:64])
	return acc, nil
}

// packCOptionPubkey writes a 4-byte-tag optional pubkey into a 36-byte slot.
func packCOptionPubkey(dst []byte, p *types.Pubkey) {
	if p == nil {
		return
	}
	binary.LittleEndian.PutUint32(dst[0:4], 1)
	copy(dst[4:36], p[:])
}

// unpackCOptionPubkey reads a 4-byte-tag optional pubkey from a 36-byte slot.
func unpackCOptionPubkey(src []byte) (*types.Pubkey, error) {
	switch binary.LittleEndian.Uint32(src[0:4]) {
	case 0:
		return nil, nil
	case 1:
		var p types.Pubkey
		copy(p[:], src[4:36])
		return &p, nil
	default:
		return nil, ErrInvalidState
	}
}
