// Package svm provides ready-made Solana signer implementations. They
// satisfy the mechanism signer interfaces so callers can wire a key or a
// signing callback straight into a payment client.
package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	"github.com/p402-io/p402/mechanisms/svm"
)

// SignTransactionFunc signs a Solana transaction in place. Implementations
// that hold keys remotely (wallets, KMS) provide their own callback.
type SignTransactionFunc func(ctx context.Context, tx *solana.Transaction) error

// ClientSigner implements svm.ClientSvmSigner around a signing callback.
type ClientSigner struct {
	publicKey       solana.PublicKey
	signTransaction SignTransactionFunc
}

var _ svm.ClientSvmSigner = (*ClientSigner)(nil)

// NewClientSigner creates a client signer from a public key and a signing
// callback.
func NewClientSigner(publicKey solana.PublicKey, signFunc SignTransactionFunc) (svm.ClientSvmSigner, error) {
	if publicKey == (solana.PublicKey{}) {
		return nil, fmt.Errorf("public key is required")
	}
	if signFunc == nil {
		return nil, fmt.Errorf("sign callback is required")
	}

	return &ClientSigner{
		publicKey:       publicKey,
		signTransaction: signFunc,
	}, nil
}

// NewClientSignerFromPrivateKey creates a client signer from a
// base58-encoded Solana private key.
//
// Example:
//
//	signer, err := svm.NewClientSignerFromPrivateKey("5J7W...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := p402.NewP402Client().
//	    RegisterScheme([]p402.Network{"solana:*"}, client.NewExactSvmScheme(signer))
func NewClientSignerFromPrivateKey(privateKeyBase58 string) (svm.ClientSvmSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	signFunc := func(ctx context.Context, tx *solana.Transaction) error {
		return signTransactionWithPrivateKey(privateKey, tx)
	}

	return NewClientSigner(privateKey.PublicKey(), signFunc)
}

// Address returns the Solana public key of the signer.
func (s *ClientSigner) Address() solana.PublicKey {
	return s.publicKey
}

// SignTransaction partially signs the transaction, placing the signature at
// the signer's account index. Other required signatures (the fee payer's)
// stay empty for the facilitator to fill.
func (s *ClientSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return s.signTransaction(ctx, tx)
}

func signTransactionWithPrivateKey(privateKey solana.PrivateKey, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}

	if len(tx.Signatures) <= int(accountIndex) {
		newSignatures := make([]solana.Signature, accountIndex+1)
		copy(newSignatures, tx.Signatures)
		tx.Signatures = newSignatures
	}
	tx.Signatures[accountIndex] = signature

	return nil
}
