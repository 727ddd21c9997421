package sim

import (
	"fmt"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/accounts"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/ata"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/token"
)

// Token helpers. Account creation writes packed state directly into the
// store, setup-time style; balance movements run real token program
// instructions through the engine.

// CreateMint materializes an initialized mint at the given address with
// zero supply and no freeze authority.
func (s *Simulator) CreateMint(mint, mintAuthority types.Pubkey, decimals uint8) error {
	state := token.Mint{
		MintAuthority: &mintAuthority,
		Decimals:      decimals,
		Initialized:   true,
	}
	return s.store.SetAccount(mint, &accounts.Account{
		Lamports: 1_000_000_000,
		Data:     state.Pack(),
		Owner:    types.TokenProgramAddr,
	})
}

// CreateTokenAccount materializes an initialized token account at the
// given address holding the given amount.
func (s *Simulator) CreateTokenAccount(account, mint, owner types.Pubkey, amount uint64) error {
	state := token.TokenAccount{
		Mint:   mint,
		Owner:  owner,
		Amount: amount,
		State:  token.AccountStateInitialized,
	}
	return s.store.SetAccount(account, &accounts.Account{
		Lamports: 1_000_000_000,
		Data:     state.Pack(),
		Owner:    types.TokenProgramAddr,
	})
}

// CreateNativeTokenAccount materializes a wrapped-native token account
// whose token amount mirrors its lamport balance.
func (s *Simulator) CreateNativeTokenAccount(account, owner types.Pubkey, lamports uint64) error {
	state := token.TokenAccount{
		Mint:     types.NativeMintAddr,
		Owner:    owner,
		Amount:   lamports,
		State:    token.AccountStateInitialized,
		IsNative: true,
	}
	return s.store.SetAccount(account, &accounts.Account{
		Lamports: lamports,
		Data:     state.Pack(),
		Owner:    types.TokenProgramAddr,
	})
}

// TokenBalance returns the token amount held by a token account.
func (s *Simulator) TokenBalance(account types.Pubkey) (uint64, error) {
	acc, err := s.store.GetAccount(account)
	if err != nil {
		return 0, err
	}
	state, err := token.UnpackTokenAccount(acc.Data)
	if err != nil {
		return 0, fmt.Errorf("account %s: %w", account, err)
	}
	return state.Amount, nil
}

// MintTo mints new tokens into a token account. The authority must be
// the mint's mint authority.
func (s *Simulator) MintTo(mint, destination, authority types.Pubkey, amount uint64) (*svm.Result, error) {
	return s.ProcessInstruction(token.NewMintTo(types.TokenProgramAddr, mint, destination, authority, amount))
}

// TransferTokens moves tokens between two accounts of the same mint.
func (s *Simulator) TransferTokens(source, destination, owner types.Pubkey, amount uint64) (*svm.Result, error) {
	return s.ProcessInstruction(token.NewTransfer(types.TokenProgramAddr, source, destination, owner, amount))
}

// SyncNative reconciles a wrapped-native account's token amount with its
// lamport balance.
func (s *Simulator) SyncNative(account types.Pubkey) (*svm.Result, error) {
	return s.ProcessInstruction(token.NewSyncNative(types.TokenProgramAddr, account))
}

// AssociatedTokenAddress derives the canonical associated token account
// address for a wallet and mint.
func (s *Simulator) AssociatedTokenAddress(wallet, mint types.Pubkey) (types.Pubkey, error) {
	addr, _, err := ata.DeriveAddress(wallet, mint)
	return addr, err
}

// CreateAssociatedTokenAccount creates the associated token account for
// a wallet and mint, funded by the payer, and returns its address. The
// idempotent variant is used, so an existing account with the right
// owner is not an error.
func (s *Simulator) CreateAssociatedTokenAccount(payer, wallet, mint types.Pubkey) (types.Pubkey, error) {
	addr, _, err := ata.DeriveAddress(wallet, mint)
	if err != nil {
		return types.Pubkey{}, err
	}
	ix := ata.NewCreateIdempotent(payer, addr, wallet, mint, types.TokenProgramAddr)
	if _, err := s.ProcessInstruction(ix); err != nil {
		return types.Pubkey{}, err
	}
	return addr, nil
}
