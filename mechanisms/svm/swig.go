package svm

import (
	"encoding/binary"
	"errors"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// Swig smart wallet support. A Swig payment wraps the token transfer inside
// the wallet program: the outer transaction carries compute budget
// instructions, optional secp256r1 signature precompiles, and a final Swig
// signV2 instruction whose data embeds the wrapped instructions in a compact
// form. Flattening recovers a regular instruction list so the transfer can
// be inspected the same way as an unwrapped payment.

var (
	swigProgramID         = solana.MustPublicKeyFromBase58(SwigProgramAddress)
	secp256r1PrecompileID = solana.MustPublicKeyFromBase58(Secp256r1PrecompileAddress)
)

// IsSwigTransaction reports whether the transaction has the Swig layout:
// every instruction but the last is a compute budget or secp256r1 precompile
// instruction, and the last is a Swig signV2.
func IsSwigTransaction(tx *solana.Transaction) bool {
	instructions := tx.Message.Instructions
	if len(instructions) == 0 {
		return false
	}
	keys := tx.Message.AccountKeys

	for _, inst := range instructions[:len(instructions)-1] {
		if int(inst.ProgramIDIndex) >= len(keys) {
			return false
		}
		progID := keys[inst.ProgramIDIndex]
		if !progID.Equals(solana.ComputeBudget) && !progID.Equals(secp256r1PrecompileID) {
			return false
		}
	}

	last := instructions[len(instructions)-1]
	if int(last.ProgramIDIndex) >= len(keys) {
		return false
	}
	if !keys[last.ProgramIDIndex].Equals(swigProgramID) {
		return false
	}
	if len(last.Data) < 2 {
		return false
	}
	return binary.LittleEndian.Uint16(last.Data[:2]) == SwigSignV2Discriminator
}

// SwigResult is a Swig transaction flattened back into regular instructions.
// SwigPDA is the wallet account that funds the wrapped transfer.
type SwigResult struct {
	Instructions []solana.CompiledInstruction
	SwigPDA      string
}

// ParseSwigTransaction flattens a Swig transaction: outer compute budget
// instructions are kept, secp256r1 precompiles are dropped, and the compact
// instructions embedded in the final signV2 are expanded into
// CompiledInstructions referencing the outer account table.
func ParseSwigTransaction(tx *solana.Transaction) (*SwigResult, error) {
	instructions := tx.Message.Instructions
	if len(instructions) == 0 {
		return nil, errors.New("transaction has no instructions")
	}
	keys := tx.Message.AccountKeys

	var flattened []solana.CompiledInstruction
	for _, inst := range instructions[:len(instructions)-1] {
		if int(inst.ProgramIDIndex) < len(keys) && keys[inst.ProgramIDIndex].Equals(secp256r1PrecompileID) {
			continue
		}
		flattened = append(flattened, inst)
	}

	signV2 := instructions[len(instructions)-1]
	if len(signV2.Accounts) == 0 || int(signV2.Accounts[0]) >= len(keys) {
		return nil, errors.New("swig sign instruction carries no wallet account")
	}
	swigPDA := keys[signV2.Accounts[0]].String()

	compact, err := DecodeSwigCompactInstructions(signV2.Data)
	if err != nil {
		return nil, err
	}
	for _, ci := range compact {
		accounts := make([]uint16, len(ci.Accounts))
		for i, a := range ci.Accounts {
			accounts[i] = uint16(a)
		}
		flattened = append(flattened, solana.CompiledInstruction{
			ProgramIDIndex: uint16(ci.ProgramIDIndex),
			Accounts:       accounts,
			Data:           ci.Data,
		})
	}

	return &SwigResult{Instructions: flattened, SwigPDA: swigPDA}, nil
}

// SwigCompactInstruction is one instruction from a signV2 payload. Account
// indices reference the outer transaction's account table.
type SwigCompactInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// DecodeSwigCompactInstructions parses the instruction payload of a Swig
// signV2 instruction.
//
// Outer data layout:
//
//	[0:2] discriminator, U16 LE
//	[2:4] payload length, U16 LE
//	[4:8] role id, U32 LE
//	[8:]  compact instructions, payload-length bytes
//
// Each compact instruction:
//
//	[0]  program id index, U8
//	[1]  account count, U8
//	[2:] account indices, one U8 each
//	then data length (U16 LE) and that many data bytes
func DecodeSwigCompactInstructions(data []byte) ([]SwigCompactInstruction, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("swig instruction data too short: %d bytes", len(data))
	}
	payloadLen := int(binary.LittleEndian.Uint16(data[2:4]))
	const payloadStart = 8
	if len(data) < payloadStart+payloadLen {
		return nil, fmt.Errorf("swig instruction payload truncated: want %d bytes, have %d", payloadLen, len(data)-payloadStart)
	}

	var instructions []SwigCompactInstruction
	offset := payloadStart
	end := payloadStart + payloadLen
	for offset < end {
		programIDIndex := data[offset]
		offset++

		if offset >= end {
			break
		}
		accountCount := int(data[offset])
		offset++

		if offset+accountCount > end {
			break
		}
		accounts := make([]uint8, accountCount)
		copy(accounts, data[offset:offset+accountCount])
		offset += accountCount

		if offset+2 > end {
			break
		}
		dataLen := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		offset += 2

		if offset+dataLen > end {
			break
		}
		instData := make([]byte, dataLen)
		copy(instData, data[offset:offset+dataLen])
		offset += dataLen

		instructions = append(instructions, SwigCompactInstruction{
			ProgramIDIndex: programIDIndex,
			Accounts:       accounts,
			Data:           instData,
		})
	}
	return instructions, nil
}
