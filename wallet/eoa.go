package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402-foundation/x402-mcp-proxy/internal/x402types"
)

// EOAWallet signs EIP-3009 authorizations directly with an externally
// owned account's private key: hash struct, hash domain, prefix with
// 0x19 0x01, keccak256, ecdsa sign, then bump v by 27.
type EOAWallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewEOAWallet builds an EOAWallet from a hex-encoded private key, with or
// without a "0x" prefix.
func NewEOAWallet(privateKeyHex string) (*EOAWallet, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid private key: %w", err)
	}
	return &EOAWallet{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address implements Wallet.
func (w *EOAWallet) Address() string { return w.address.Hex() }

// CreatePayment implements Wallet.
func (w *EOAWallet) CreatePayment(ctx context.Context, req x402types.PaymentRequirements) (*x402types.PaymentPayload, error) {
	auth, err := buildAuthorization(req, w.address)
	if err != nil {
		return nil, err
	}
	domain, err := assetDomain(req)
	if err != nil {
		return nil, err
	}

	sig, err := signEIP3009(w.privateKey, domain, auth)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign authorization: %w", err)
	}

	return &x402types.PaymentPayload{
		X402Version: x402types.ProtocolVersion,
		Scheme:      schemeExact,
		Network:     req.Network,
		Payload: x402types.ExactPayload{
			Signature:     sig,
			Authorization: auth,
		},
	}, nil
}

// SignMessage implements Wallet.
func (w *EOAWallet) SignMessage(ctx context.Context, message []byte) (string, error) {
	return signPersonalMessage(w.privateKey, message)
}
