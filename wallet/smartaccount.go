package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402-foundation/x402-mcp-proxy/internal/x402types"
)

// eip1271MagicValue is the 4-byte value an ERC-1271 isValidSignature call
// returns on success; the smart account's asset contract checks for this
// when validating the wrapped signature this wallet produces.
const eip1271MagicValue = "0x1626ba7e"

// defaultValidatorAddress is the ownable-validator module address used when
// the deployment doesn't configure one explicitly.
const defaultValidatorAddress = "0x000000000000000000000000000000000000000D"

var erc1271WrapperArgs = abi.Arguments{
	{Type: mustABIType("address")},
	{Type: mustABIType("bytes")},
}

func mustABIType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("wallet: bad abi type %q: %v", name, err))
	}
	return t
}

// SmartAccountWallet signs EIP-3009 authorizations on behalf of an ERC-4337
// smart account, using a dedicated session key (distinct from any owner EOA
// key) and wrapping the raw ECDSA signature into an ERC-1271 envelope that
// routes through a single-owner "ownable validator" module. The "from"
// address on every authorization is the smart account's address.
type SmartAccountWallet struct {
	sessionKey       *ecdsa.PrivateKey
	accountAddress   common.Address
	validatorAddress common.Address
	chainID          *big.Int
}

// defaultSmartAccountChainID is the chain id used when the deployment
// doesn't configure one explicitly: Base Sepolia.
const defaultSmartAccountChainID = 84532

// NewSmartAccountWallet builds a SmartAccountWallet. accountAddress is the
// deployed (or counterfactual) smart account address; sessionKeyHex is the
// session signer key registered with the account's ownable validator
// module; validatorAddress is that module's address (empty string falls
// back to defaultValidatorAddress); chainID is the EIP-712 domain chain id
// used for every payment this wallet signs (zero falls back to
// defaultSmartAccountChainID).
func NewSmartAccountWallet(accountAddress, sessionKeyHex, validatorAddress string, chainID int64) (*SmartAccountWallet, error) {
	if !common.IsHexAddress(accountAddress) {
		return nil, fmt.Errorf("wallet: smart account address %q is invalid", accountAddress)
	}
	if validatorAddress == "" {
		validatorAddress = defaultValidatorAddress
	}
	if !common.IsHexAddress(validatorAddress) {
		return nil, fmt.Errorf("wallet: validator address %q is invalid", validatorAddress)
	}
	if chainID == 0 {
		chainID = defaultSmartAccountChainID
	}
	sessionKeyHex = strings.TrimPrefix(sessionKeyHex, "0x")
	sessionKey, err := crypto.HexToECDSA(sessionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid session key: %w", err)
	}
	return &SmartAccountWallet{
		sessionKey:       sessionKey,
		accountAddress:   common.HexToAddress(accountAddress),
		validatorAddress: common.HexToAddress(validatorAddress),
		chainID:          big.NewInt(chainID),
	}, nil
}

// Address implements Wallet, returning the smart account's address.
func (w *SmartAccountWallet) Address() string { return w.accountAddress.Hex() }

// CreatePayment implements Wallet. The authorization's "from" is the smart
// account; the session key signs the same EIP-712 digest an EOA would, and
// the signature is ERC-1271-encoded against the validator module so the
// asset contract's isValidSignature call routes to the right module.
func (w *SmartAccountWallet) CreatePayment(ctx context.Context, req x402types.PaymentRequirements) (*x402types.PaymentPayload, error) {
	auth, err := buildAuthorization(req, w.accountAddress)
	if err != nil {
		return nil, err
	}
	domain, err := assetDomain(req)
	if err != nil {
		return nil, err
	}
	domain.ChainID = w.chainID

	rawSig, err := signEIP3009(w.sessionKey, domain, auth)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign authorization: %w", err)
	}

	wrapped, err := wrapOwnableValidatorSignature(w.validatorAddress, rawSig)
	if err != nil {
		return nil, fmt.Errorf("wallet: wrap signature: %w", err)
	}

	return &x402types.PaymentPayload{
		X402Version: x402types.ProtocolVersion,
		Scheme:      schemeExact,
		Network:     req.Network,
		Payload: x402types.ExactPayload{
			Signature:     wrapped,
			Authorization: auth,
		},
	}, nil
}

// SignMessage implements Wallet using the session key, wrapped the same way
// a payment signature is.
func (w *SmartAccountWallet) SignMessage(ctx context.Context, message []byte) (string, error) {
	rawSig, err := signPersonalMessage(w.sessionKey, message)
	if err != nil {
		return "", err
	}
	return wrapOwnableValidatorSignature(w.validatorAddress, rawSig)
}

// wrapOwnableValidatorSignature ABI-encodes (validator address, inner
// signature) as the ownable validator module expects: the smart account's
// isValidSignature dispatches on the leading address to the named module,
// which in turn recovers the signer from the trailing signature bytes and
// compares against its registered single owner (threshold 1). A conforming
// asset contract returns eip1271MagicValue when that recovery succeeds.
func wrapOwnableValidatorSignature(validator common.Address, rawSigHex string) (string, error) {
	rawSigHex = strings.TrimPrefix(rawSigHex, "0x")
	rawSig := common.Hex2Bytes(rawSigHex)

	packed, err := erc1271WrapperArgs.Pack(validator, rawSig)
	if err != nil {
		return "", fmt.Errorf("abi-encode ownable validator signature: %w", err)
	}
	return "0x" + common.Bytes2Hex(packed), nil
}
