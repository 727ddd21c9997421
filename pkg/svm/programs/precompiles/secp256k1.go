package precompiles

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
	"golang.org/x/crypto/sha3"
)

// Secp256k1ProgramID is the secp256k1 signature-verify program address.
var Secp256k1ProgramID = types.Secp256k1PrecompileAddr

const (
	secpEntryLen     = 11
	secpDataStart    = 12 // count + one offsets entry
	secpSignatureLen = 64

	// EthereumAddressLen is the byte length of a recovered address.
	EthereumAddressLen = 20
)

// ErrInvalidRecoveryID is returned when a recovery id is not in [0, 3].
var ErrInvalidRecoveryID = errors.New("invalid recovery id")

// Secp256k1Processor recovers secp256k1 public keys from signatures and
// matches their Ethereum addresses against the expected ones.
type Secp256k1Processor struct{}

var _ svm.Program = (*Secp256k1Processor)(nil)

func NewSecp256k1Processor() *Secp256k1Processor {
	return &Secp256k1Processor{}
}

// Execute recovers each entry's signer over keccak256(message) and
// compares the derived address. A single mismatch fails the whole
// instruction.
func (p *Secp256k1Processor) Execute(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 1 {
		return ErrInvalidInstructionData
	}
	count := int(data[0])
	if err := ctx.ConsumeCompute(uint64(count) * svm.CUSecp256k1Recover); err != nil {
		return err
	}
	if count == 0 && len(data) > 1 {
		return ErrInvalidInstructionData
	}
	if len(data) < 1+count*secpEntryLen {
		return ErrInvalidInstructionData
	}

	for i := 0; i < count; i++ {
		entry := data[1+i*secpEntryLen:]
		sigOffset := binary.LittleEndian.Uint16(entry[0:])
		ethOffset := binary.LittleEndian.Uint16(entry[3:])
		msgOffset := binary.LittleEndian.Uint16(entry[6:])
		msgSize := binary.LittleEndian.Uint16(entry[8:])

		sigAndRecovery, err := sliceAt(data, sigOffset, secpSignatureLen+1)
		if err != nil {
			return err
		}
		ethAddr, err := sliceAt(data, ethOffset, EthereumAddressLen)
		if err != nil {
			return err
		}
		msg, err := sliceAt(data, msgOffset, int(msgSize))
		if err != nil {
			return err
		}

		recoveryID := sigAndRecovery[secpSignatureLen]
		if recoveryID > 3 {
			return ErrInvalidRecoveryID
		}

		compact := make([]byte, secpSignatureLen+1)
		compact[0] = 27 + recoveryID
		copy(compact[1:], sigAndRecovery[:secpSignatureLen])

		pub, _, err := ecdsa.RecoverCompact(compact, keccak256(msg))
		if err != nil {
			return ErrSignatureVerification
		}
		recovered := EthereumAddress(pub)
		if !bytes.Equal(recovered[:], ethAddr) {
			return ErrSignatureVerification
		}
	}
	return nil
}

// EthereumAddress derives the 20-byte address for a secp256k1 public
// key: the last 20 bytes of keccak256 over the uncompressed point
// without its 0x04 prefix.
func EthereumAddress(pub *secp256k1.PublicKey) [EthereumAddressLen]byte {
	digest := keccak256(pub.SerializeUncompressed()[1:])
	var addr [EthereumAddressLen]byte
	copy(addr[:], digest[12:])
	return addr
}

func keccak256(b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return h.Sum(nil)
}

// NewSecp256k1Verify signs keccak256(message) with the private key and
// builds a single-entry verify instruction over the result.
func NewSecp256k1Verify(key *secp256k1.PrivateKey, message []byte) svm.Instruction {
	compact := ecdsa.SignCompact(key, keccak256(message), false)
	addr := EthereumAddress(key.PubKey())

	ethOffset := secpDataStart
	sigOffset := ethOffset + EthereumAddressLen
	msgOffset := sigOffset + secpSignatureLen + 1

	data := make([]byte, msgOffset+len(message))
	data[0] = 1

	entry := data[1:]
	binary.LittleEndian.PutUint16(entry[0:], uint16(sigOffset))
	binary.LittleEndian.PutUint16(entry[3:], uint16(ethOffset))
	binary.LittleEndian.PutUint16(entry[6:], uint16(msgOffset))
	binary.LittleEndian.PutUint16(entry[8:], uint16(len(message)))

	copy(data[ethOffset:], addr[:])
	copy(data[sigOffset:], compact[1:])
	data[sigOffset+secpSignatureLen] = compact[0] - 27
	copy(data[msgOffset:], message)

	return svm.Instruction{ProgramID: Secp256k1ProgramID, Data: data}
}
