// Package precompiles implements the native signature-verification
// programs. Each instruction carries a count-prefixed table of offset
// entries followed by the signatures, keys, and messages they point at.
// The offset tables use the little-endian wire layouts of the on-chain
// programs. Offsets always resolve within the current instruction's
// data; the instruction index fields are carried but not dereferenced.
package precompiles

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
)

// Ed25519ProgramID is the ed25519 signature-verify program address.
var Ed25519ProgramID = types.Ed25519PrecompileAddr

const (
	ed25519EntryLen  = 14
	ed25519DataStart = 16 // count + padding + one offsets entry

	// currentInstruction marks an offset entry as self-referential.
	currentInstruction = 0xFFFF
)

var (
	ErrInvalidInstructionData = errors.New("invalid instruction data")
	ErrInvalidDataOffsets     = errors.New("data offsets out of range")
	ErrSignatureVerification  = errors.New("signature verification failed")
)

// Ed25519Processor verifies ed25519 signatures over instruction data.
type Ed25519Processor struct{}

var _ svm.Program = (*Ed25519Processor)(nil)

func NewEd25519Processor() *Ed25519Processor {
	return &Ed25519Processor{}
}

// Execute checks every signature entry in the offset table. A single
// bad signature fails the whole instruction.
func (p *Ed25519Processor) Execute(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 2 {
		return ErrInvalidInstructionData
	}
	count := int(data[0])
	if err := ctx.ConsumeCompute(uint64(count) * svm.CUSignatureVerify); err != nil {
		return err
	}
	if count == 0 && len(data) > 2 {
		return ErrInvalidInstructionData
	}
	if len(data) < 2+count*ed25519EntryLen {
		return ErrInvalidInstructionData
	}

	for i := 0; i < count; i++ {
		entry := data[2+i*ed25519EntryLen:]
		sigOffset := binary.LittleEndian.Uint16(entry[0:])
		pubOffset := binary.LittleEndian.Uint16(entry[4:])
		msgOffset := binary.LittleEndian.Uint16(entry[8:])
		msgSize := binary.LittleEndian.Uint16(entry[10:])

		sig, err := sliceAt(data, sigOffset, ed25519.SignatureSize)
		if err != nil {
			return err
		}
		pub, err := sliceAt(data, pubOffset, ed25519.PublicKeySize)
		if err != nil {
			return err
		}
		msg, err := sliceAt(data, msgOffset, int(msgSize))
		if err != nil {
			return err
		}

		if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
			return ErrSignatureVerification
		}
	}
	return nil
}

// sliceAt bounds-checks a [offset, offset+size) window of data.
func sliceAt(data []byte, offset uint16, size int) ([]byte, error) {
	end := int(offset) + size
	if end > len(data) {
		return nil, ErrInvalidDataOffsets
	}
	return data[offset:end], nil
}

// NewEd25519Verify signs message with the keypair and builds a
// single-entry verify instruction over the result.
func NewEd25519Verify(kp *types.Keypair, message []byte) svm.Instruction {
	sig := kp.Sign(message)
	pub := kp.Pubkey()

	pubOffset := ed25519DataStart
	sigOffset := pubOffset + ed25519.PublicKeySize
	msgOffset := sigOffset + ed25519.SignatureSize

	data := make([]byte, msgOffset+len(message))
	data[0] = 1

	entry := data[2:]
	binary.LittleEndian.PutUint16(entry[0:], uint16(sigOffset))
	binary.LittleEndian.PutUint16(entry[2:], currentInstruction)
	binary.LittleEndian.PutUint16(entry[4:], uint16(pubOffset))
	binary.LittleEndian.PutUint16(entry[6:], currentInstruction)
	binary.LittleEndian.PutUint16(entry[8:], uint16(msgOffset))
	binary.LittleEndian.PutUint16(entry[10:], uint16(len(message)))
	binary.LittleEndian.PutUint16(entry[12:], currentInstruction)

	copy(data[pubOffset:], pub[:])
	copy(data[sigOffset:], sig[:])
	copy(data[msgOffset:], message)

	return svm.Instruction{ProgramID: Ed25519ProgramID, Data: data}
}
