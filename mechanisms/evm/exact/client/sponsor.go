package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/p402-io/p402/extensions/eip2612gassponsor"
	"github.com/p402-io/p402/extensions/erc20approvalgassponsor"
	"github.com/p402-io/p402/mechanisms/evm"
)

// SignEip2612Permit signs an EIP-2612 permit authorizing the canonical
// Permit2 contract to spend the token. The result is a gasless off-chain
// signature the facilitator submits on-chain during settlement.
func SignEip2612Permit(
	ctx context.Context,
	signer evm.ClientEvmSigner,
	tokenAddress string,
	tokenName string,
	tokenVersion string,
	chainID *big.Int,
	deadline string,
) (*eip2612gassponsor.Info, error) {
	owner := evm.NormalizeAddress(signer.Address())
	token := evm.NormalizeAddress(tokenAddress)

	nonceResult, err := signer.ReadContract(ctx, token, evm.EIP2612NoncesABI, "nonces", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to read EIP-2612 nonce: %w", err)
	}
	nonce, ok := nonceResult.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected nonce type: %T", nonceResult)
	}

	if _, ok := new(big.Int).SetString(deadline, 10); !ok {
		return nil, fmt.Errorf("invalid deadline: %s", deadline)
	}

	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: token,
	}

	value := evm.MaxUint256()
	message := map[string]interface{}{
		"owner":    owner,
		"spender":  evm.PERMIT2Address,
		"value":    value.String(),
		"nonce":    nonce.String(),
		"deadline": deadline,
	}

	signature, err := signer.SignTypedData(ctx, domain, evm.GetEIP2612EIP712Types(), "Permit", message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign EIP-2612 permit: %w", err)
	}

	return &eip2612gassponsor.Info{
		From:      owner,
		Asset:     token,
		Spender:   evm.PERMIT2Address,
		Amount:    value.String(),
		Nonce:     nonce.String(),
		Deadline:  deadline,
		Signature: evm.BytesToHex(signature),
		Version:   eip2612gassponsor.Version,
	}, nil
}

// SignErc20ApprovalTransaction pre-signs an EIP-1559 transaction calling
// approve(Permit2, MaxUint256) on the token, for tokens without EIP-2612.
// The transaction is not broadcast; the facilitator does that before
// settling, paying the gas.
func SignErc20ApprovalTransaction(
	ctx context.Context,
	signer evm.ClientTransactionSigner,
	tokenAddress string,
	chainID *big.Int,
) (*erc20approvalgassponsor.Info, error) {
	owner := evm.NormalizeAddress(signer.Address())
	token := evm.NormalizeAddress(tokenAddress)

	contractABI, err := abi.JSON(strings.NewReader(string(evm.ERC20ApproveABI)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse approve ABI: %w", err)
	}
	value := evm.MaxUint256()
	calldata, err := contractABI.Pack("approve", common.HexToAddress(evm.PERMIT2Address), value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode approve calldata: %w", err)
	}

	nonce, err := signer.GetTransactionCount(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction count: %w", err)
	}

	maxFeePerGas, maxPriorityFeePerGas, err := signer.EstimateFeesPerGas(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate fees: %w", err)
	}

	to := common.HexToAddress(token)
	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: maxPriorityFeePerGas,
		GasFeeCap: maxFeePerGas,
		Gas:       evm.ERC20ApproveGasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      calldata,
	})

	rlpBytes, err := signer.SignTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign approve transaction: %w", err)
	}

	return &erc20approvalgassponsor.Info{
		From:              owner,
		Asset:             token,
		Spender:           evm.PERMIT2Address,
		Amount:            value.String(),
		SignedTransaction: "0x" + hex.EncodeToString(rlpBytes),
		Version:           erc20approvalgassponsor.Version,
	}, nil
}
