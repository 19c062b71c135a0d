// Package evm provides ready-made EVM signer implementations backed by a
// local private key. They satisfy the mechanism signer interfaces so callers
// can wire a key straight into a payment client.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/p402-io/p402/mechanisms/evm"
)

// ClientSigner implements evm.ClientEvmSigner with an ECDSA private key held
// in memory. Suitable for agents and test rigs; production services usually
// bring a KMS-backed implementation instead.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	ethClient  *ethclient.Client
}

var _ evm.ClientEvmSigner = (*ClientSigner)(nil)

// NewClientSignerFromPrivateKey creates a client signer from a hex-encoded
// private key, with or without the "0x" prefix.
//
// Example:
//
//	signer, err := evm.NewClientSignerFromPrivateKey("0x1234...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := p402.NewP402Client().
//	    RegisterScheme([]p402.Network{"eip155:*"}, exact.NewExactEvmScheme(signer))
func NewClientSignerFromPrivateKey(privateKeyHex string) (evm.ClientEvmSigner, error) {
	return NewClientSignerFromPrivateKeyWithClient(privateKeyHex, nil)
}

// NewClientSignerFromPrivateKeyWithClient creates a client signer from a
// private key and an optional ethclient for contract reads (for example
// querying EIP-2612 permit nonces). With a nil ethClient, ReadContract
// returns an error when called.
func NewClientSignerFromPrivateKeyWithClient(privateKeyHex string, ethClient *ethclient.Client) (evm.ClientEvmSigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		ethClient:  ethClient,
	}, nil
}

// Address returns the checksummed address of the signer.
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// SignTypedData signs EIP-712 typed data and returns the 65-byte (r, s, v)
// signature with v normalized to 27/28.
func (s *ClientSigner) SignTypedData(
	ctx context.Context,
	domain evm.TypedDataDomain,
	types map[string][]evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	// Most mechanisms omit the domain type from their field map; fill in
	// the full default so hashing always has it.
	if _, exists := types["EIP712Domain"]; !exists {
		withDomain := make(map[string][]evm.TypedDataField, len(types)+1)
		for name, fields := range types {
			withDomain[name] = fields
		}
		withDomain["EIP712Domain"] = evm.FullEIP712DomainTypes
		types = withDomain
	}

	digest, err := evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Recovery ID 0/1 becomes 27/28.
	signature[64] += 27

	return signature, nil
}

// ReadContract performs a read-only contract call. Requires an ethclient
// provided via NewClientSignerFromPrivateKeyWithClient.
func (s *ClientSigner) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	if s.ethClient == nil {
		return nil, fmt.Errorf("ReadContract requires an ethclient; use NewClientSignerFromPrivateKeyWithClient")
	}

	contractABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	addr := common.HexToAddress(contractAddress)
	result, err := s.ethClient.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	outputs, err := contractABI.Unpack(functionName, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		return outputs[0], nil
	default:
		return outputs, nil
	}
}
