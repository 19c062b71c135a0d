package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/p402-io/p402/mechanisms/evm"
)

// eip1271MagicValue is returned by isValidSignature when a contract
// wallet accepts a signature.
var eip1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

const eip1271ABI = `[{"constant":true,"inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"name":"isValidSignature","outputs":[{"name":"","type":"bytes4"}],"type":"function"}]`

const erc20BalanceABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// evmSigner implements evm.FacilitatorEvmSigner over a single JSON-RPC
// endpoint. One instance serves every eip155 network that endpoint's
// chain backs; nonces come from the pending pool on each write.
var _ evm.FacilitatorEvmSigner = (*evmSigner)(nil)

type evmSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	client     *ethclient.Client
	chainID    *big.Int
}

func newEvmSigner(ctx context.Context, privateKeyHex, rpcURL string) (*evmSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}

	return &evmSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		client:     client,
		chainID:    chainID,
	}, nil
}

func (s *evmSigner) GetAddresses() []string {
	return []string{s.address.Hex()}
}

func (s *evmSigner) ReadContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (interface{}, error) {
	contractABI, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", functionName, err)
	}

	to := common.HexToAddress(address)
	result, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", functionName, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty result from %s", functionName)
	}

	method, ok := contractABI.Methods[functionName]
	if !ok {
		return nil, fmt.Errorf("method %s not in abi", functionName)
	}
	output, err := method.Outputs.Unpack(result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", functionName, err)
	}
	if len(output) == 0 {
		return nil, nil
	}
	return output[0], nil
}

func (s *evmSigner) VerifyTypedData(
	ctx context.Context,
	signerAddress string,
	domain evm.TypedDataDomain,
	types map[string][]evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
	signature []byte,
) (bool, error) {
	digest, err := evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return false, fmt.Errorf("hash typed data: %w", err)
	}

	signer := common.HexToAddress(signerAddress)

	// Contract wallets verify through EIP-1271.
	code, err := s.GetCode(ctx, signerAddress)
	if err != nil {
		return false, err
	}
	if len(code) > 0 {
		return s.verifyEIP1271(ctx, signer, digest, signature)
	}

	if len(signature) != 65 {
		return false, nil
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, nil
	}
	return crypto.PubkeyToAddress(*pubKey) == signer, nil
}

func (s *evmSigner) verifyEIP1271(ctx context.Context, wallet common.Address, digest, signature []byte) (bool, error) {
	var hash [32]byte
	copy(hash[:], digest)

	result, err := s.ReadContract(ctx, wallet.Hex(), []byte(eip1271ABI), "isValidSignature", hash, signature)
	if err != nil {
		return false, fmt.Errorf("isValidSignature: %w", err)
	}
	magic, ok := result.([4]byte)
	if !ok {
		return false, fmt.Errorf("unexpected isValidSignature result type %T", result)
	}
	return magic == eip1271MagicValue, nil
}

func (s *evmSigner) WriteContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (string, error) {
	contractABI, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return "", fmt.Errorf("parse abi: %w", err)
	}
	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", functionName, err)
	}

	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}

	to := common.HexToAddress(address)
	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: s.address,
		To:   &to,
		Data: data,
	})
	if err != nil {
		// Estimation can fail on state that settles mid-block; fall back
		// to a limit that covers every mechanism call we submit.
		gasLimit = 300000
	}

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

func (s *evmSigner) SendRawTransaction(ctx context.Context, signedTx string) (string, error) {
	raw, err := hexutil.Decode(signedTx)
	if err != nil {
		return "", fmt.Errorf("decode transaction hex: %w", err)
	}
	var tx ethtypes.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}
	if err := s.client.SendTransaction(ctx, &tx); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return tx.Hash().Hex(), nil
}

func (s *evmSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.Now().Add(60 * time.Second)

	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return &evm.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber,
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no receipt for %s after 60s", txHash)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *evmSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	if tokenAddress == "" || tokenAddress == "0x0000000000000000000000000000000000000000" {
		balance, err := s.client.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return nil, fmt.Errorf("native balance: %w", err)
		}
		return balance, nil
	}

	result, err := s.ReadContract(ctx, tokenAddress, []byte(erc20BalanceABI), "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", result)
	}
	return balance, nil
}

func (s *evmSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	code, err := s.client.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("code at %s: %w", address, err)
	}
	return code, nil
}
