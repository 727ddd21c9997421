package token

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
)

// NewInitializeMint builds an InitializeMint instruction. The mint account
// must already exist with 82 bytes of space, owned by the token program.
func NewInitializeMint(programID, mint types.Pubkey, decimals uint8, mintAuthority types.Pubkey, freezeAuthority *types.Pubkey) svm.Instruction {
	data := make([]byte, 0, 66)
	data = append(data, InstructionInitializeMint, decimals)
	data = append(data, mintAuthority[:]...)
	if freezeAuthority != nil {
		data = append(data, 1)
		data = append(data, freezeAuthority[:]...)
	} else {
		data = append(data, 0)
	}

	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.Meta(mint),
			svm.MetaReadonly(types.SysvarRentAddr),
		},
		Data: data,
	}
}

// NewInitializeAccount builds an InitializeAccount instruction. The token
// account must already exist with 165 bytes of space, owned by the token
// program.
func NewInitializeAccount(programID, account, mint, owner types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.Meta(account),
			svm.MetaReadonly(mint),
			svm.MetaReadonly(owner),
			svm.MetaReadonly(types.SysvarRentAddr),
		},
		Data: []byte{InstructionInitializeAccount},
	}
}

// NewTransfer builds a Transfer instruction. The source owner signs.
func NewTransfer(programID, source, destination, owner types.Pubkey, amount uint64) svm.Instruction {
	data := make([]byte, 9)
	data[0] = InstructionTransfer
	binary.LittleEndian.PutUint64(data[1:9], amount)

	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.Meta(source),
			svm.Meta(destination),
			svm.MetaReadonlySigner(owner),
		},
		Data: data,
	}
}

// NewMintTo builds a MintTo instruction. The mint authority signs.
func NewMintTo(programID, mint, destination, authority types.Pubkey, amount uint64) svm.Instruction {
	data := make([]byte, 9)
	data[0] = InstructionMintTo
	binary.LittleEndian.PutUint64(data[1:9], amount)

	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.Meta(mint),
			svm.Meta(destination),
			svm.MetaReadonlySigner(authority),
		},
		Data: data,
	}
}

// NewBurn builds a Burn instruction. The account owner signs.
func NewBurn(programID, account, mint, owner types.Pubkey, amount uint64) svm.Instruction {
	data := make([]byte, 9)
	data[0] = InstructionBurn
	binary.LittleEndian.PutUint64(data[1:9], amount)

	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.Meta(account),
			svm.Meta(mint),
			svm.MetaReadonlySigner(owner),
		},
		Data: data,
	}
}

// NewCloseAccount builds a CloseAccount instruction draining the account's
// lamports to destination. The close authority (or owner) signs.
func NewCloseAccount(programID, account, destination, authority types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.Meta(account),
			svm.Meta(destination),
			svm.MetaReadonlySigner(authority),
		},
		Data: []byte{InstructionCloseAccount},
	}
}

// NewSyncNative builds a SyncNative instruction refreshing a wrapped-native
// account's amount from its lamports.
func NewSyncNative(programID, account types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: programID,
		Accounts:  []svm.AccountMeta{svm.Meta(account)},
		Data:      []byte{InstructionSyncNative},
	}
}
