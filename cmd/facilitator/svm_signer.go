package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/p402-io/p402/mechanisms/svm"
)

// svmSigner implements svm.FacilitatorSvmSigner with one ed25519 fee
// payer key and an RPC client per configured cluster.
type svmSigner struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	clients    map[string]*rpc.Client
}

var _ svm.FacilitatorSvmSigner = (*svmSigner)(nil)

// newSvmSigner parses a hex-encoded key (a 32-byte seed or a full
// 64-byte keypair) and builds RPC clients for the given networks.
// rpcOverride, when set, replaces the default endpoint on every network.
func newSvmSigner(privateKeyHex string, networks []string, rpcOverride string) (*svmSigner, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}

	var privateKey solana.PrivateKey
	switch len(keyBytes) {
	case ed25519.SeedSize:
		privateKey = solana.PrivateKey(ed25519.NewKeyFromSeed(keyBytes))
	case ed25519.PrivateKeySize:
		privateKey = solana.PrivateKey(keyBytes)
	default:
		return nil, fmt.Errorf("private key must be 32 or 64 bytes, got %d", len(keyBytes))
	}

	signer := &svmSigner{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
		clients:    make(map[string]*rpc.Client),
	}

	for _, network := range networks {
		caip2, err := svm.NormalizeNetwork(network)
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", network, err)
		}
		endpoint := rpcOverride
		if endpoint == "" {
			cfg, ok := svm.NetworkConfigs[caip2]
			if !ok {
				return nil, fmt.Errorf("no default endpoint for %s", caip2)
			}
			endpoint = cfg.RPCURL
		}
		signer.clients[caip2] = rpc.New(endpoint)
	}

	return signer, nil
}

func (s *svmSigner) getClient(network string) (*rpc.Client, error) {
	caip2, err := svm.NormalizeNetwork(network)
	if err != nil {
		return nil, err
	}
	client, ok := s.clients[caip2]
	if !ok {
		return nil, fmt.Errorf("no rpc client for network %s", network)
	}
	return client, nil
}

func (s *svmSigner) GetAddresses(ctx context.Context, network string) []solana.PublicKey {
	return []solana.PublicKey{s.publicKey}
}

func (s *svmSigner) SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error {
	if !feePayer.Equals(s.publicKey) {
		return fmt.Errorf("fee payer %s not managed by this signer", feePayer)
	}

	client, err := s.getClient(network)
	if err != nil {
		return err
	}
	recent, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return fmt.Errorf("latest blockhash: %w", err)
	}
	tx.Message.RecentBlockhash = recent.Value.Blockhash

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.publicKey) {
			return &s.privateKey
		}
		return nil
	}); err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}

func (s *svmSigner) SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error {
	client, err := s.getClient(network)
	if err != nil {
		return err
	}
	result, err := client.SimulateTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}
	if result.Value.Err != nil {
		return fmt.Errorf("simulation failed: %v", result.Value.Err)
	}
	return nil
}

func (s *svmSigner) SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error) {
	client, err := s.getClient(network)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := client.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

func (s *svmSigner) ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error {
	client, err := s.getClient(network)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	deadline := time.Now().Add(60 * time.Second)

	for {
		statuses, err := client.GetSignatureStatuses(ctx, false, signature)
		if err == nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("confirmation timeout for %s", signature)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
