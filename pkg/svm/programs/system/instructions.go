package system

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
)

// NewCreateAccount builds a CreateAccount instruction. Both the funder and
// the new account sign.
func NewCreateAccount(from, newAccount types.Pubkey, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 4+48)
	binary.LittleEndian.PutUint32(data[0:4], InstructionCreateAccount)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	binary.LittleEndian.PutUint64(data[12:20], space)
	copy(data[20:52], owner[:])

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.MetaSigner(from),
			svm.MetaSigner(newAccount),
		},
		Data: data,
	}
}

// NewAssign builds an Assign instruction changing an account's owner.
func NewAssign(account, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(data[0:4], InstructionAssign)
	copy(data[4:36], owner[:])

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.MetaSigner(account)},
		Data:      data,
	}
}

// NewTransfer builds a Transfer instruction moving lamports from one system
// account to another.
func NewTransfer(from, to types.Pubkey, lamports uint64) svm.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[0:4], InstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.MetaSigner(from),
			svm.Meta(to),
		},
		Data: data,
	}
}

// NewAllocate builds an Allocate instruction growing an account's data.
func NewAllocate(account types.Pubkey, space uint64) svm.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[0:4], InstructionAllocate)
	binary.LittleEndian.PutUint64(data[4:12], space)

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.MetaSigner(account)},
		Data:      data,
	}
}

// NewCreateAccountWithSeed builds a CreateAccountWithSeed instruction. The
// created account's address must equal CreateWithSeedAddress(base, seed, owner).
func NewCreateAccountWithSeed(from, created, base types.Pubkey, seed string, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 4+32+8+len(seed)+48)
	binary.LittleEndian.PutUint32(data[0:4], InstructionCreateAccountWithSeed)
	copy(data[4:36], base[:])
	binary.LittleEndian.PutUint64(data[36:44], uint64(len(seed)))
	copy(data[44:], seed)
	offset := 44 + len(seed)
	binary.LittleEndian.PutUint64(data[offset:offset+8], lamports)
	binary.LittleEndian.PutUint64(data[offset+8:offset+16], space)
	copy(data[offset+16:offset+48], owner[:])

	metas := []svm.AccountMeta{
		svm.MetaSigner(from),
		svm.Meta(created),
	}
	if base != from {
		metas = append(metas, svm.MetaReadonlySigner(base))
	}

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  metas,
		Data:      data,
	}
}

// NewAllocateWithSeed builds an AllocateWithSeed instruction.
func NewAllocateWithSeed(account, base types.Pubkey, seed string, space uint64, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 4+32+8+len(seed)+40)
	binary.LittleEndian.PutUint32(data[0:4], InstructionAllocateWithSeed)
	copy(data[4:36], base[:])
	binary.LittleEndian.PutUint64(data[36:44], uint64(len(seed)))
	copy(data[44:], seed)
	offset := 44 + len(seed)
	binary.LittleEndian.PutUint64(data[offset:offset+8], space)
	copy(data[offset+8:offset+40], owner[:])

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.Meta(account),
			svm.MetaReadonlySigner(base),
		},
		Data: data,
	}
}

// NewAssignWithSeed builds an AssignWithSeed instruction.
func NewAssignWithSeed(account, base types.Pubkey, seed string, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 4+32+8+len(seed)+32)
	binary.LittleEndian.PutUint32(data[0:4], InstructionAssignWithSeed)
	copy(data[4:36], base[:])
	binary.LittleEndian.PutUint64(data[36:44], uint64(len(seed)))
	copy(data[44:], seed)
	offset := 44 + len(seed)
	copy(data[offset:offset+32], owner[:])

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.Meta(account),
			svm.MetaReadonlySigner(base),
		},
		Data: data,
	}
}

// NewTransferWithSeed builds a TransferWithSeed instruction moving lamports
// out of a seed-derived account. The base account signs.
func NewTransferWithSeed(from, base, to types.Pubkey, seed string, lamports uint64, fromOwner types.Pubkey) svm.Instruction {
	data := make([]byte, 4+8+8+len(seed)+32)
	binary.LittleEndian.PutUint32(data[0:4], InstructionTransferWithSeed)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	binary.LittleEndian.PutUint64(data[12:20], uint64(len(seed)))
	copy(data[20:], seed)
	offset := 20 + len(seed)
	copy(data[offset:offset+32], fromOwner[:])

	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			svm.Meta(from),
			svm.MetaReadonlySigner(base),
			svm.Meta(to),
		},
		Data: data,
	}
}
