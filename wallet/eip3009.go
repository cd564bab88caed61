package wallet

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/x402-foundation/x402-mcp-proxy/internal/x402types"
)

// schemeExact is the only payment scheme this wallet package signs for.
const schemeExact = "exact"

// validAfterGrace is how far back validAfter is backdated from now, guarding
// against clock skew with the facilitator.
const validAfterGrace = 600 * time.Second

// defaultTimeoutSeconds is the validity window used when a requirement
// leaves MaxTimeoutSeconds unset (zero).
const defaultTimeoutSeconds = 300

// typedDataDomain builds the EIP-712 domain separator for an EIP-3009 asset
// contract.
type typedDataDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

// eip3009TypedData assembles the apitypes.TypedData for a
// TransferWithAuthorization message, ready for HashStruct/domain hashing.
func eip3009TypedData(domain typedDataDomain, auth x402types.ExactAuthorization) apitypes.TypedData {
	types := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}

	message := map[string]interface{}{
		"from":        auth.From,
		"to":          auth.To,
		"value":       auth.Value,
		"validAfter":  auth.ValidAfter,
		"validBefore": auth.ValidBefore,
		"nonce":       auth.Nonce,
	}

	return apitypes.TypedData{
		Types:       types,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}
}

// buildAuthorization mints a fresh EIP-3009 authorization for req, payable
// to req.PayTo for req.MaxAmountRequired, from the given signer address.
func buildAuthorization(req x402types.PaymentRequirements, from common.Address) (x402types.ExactAuthorization, error) {
	if req.Scheme != schemeExact {
		return x402types.ExactAuthorization{}, &ErrUnsupportedScheme{Scheme: req.Scheme, Network: req.Network}
	}
	if !common.IsHexAddress(req.PayTo) {
		return x402types.ExactAuthorization{}, fmt.Errorf("wallet: payTo %q is not a valid address", req.PayTo)
	}

	nonce, err := randomNonce()
	if err != nil {
		return x402types.ExactAuthorization{}, fmt.Errorf("wallet: generate nonce: %w", err)
	}

	timeoutSeconds := req.MaxTimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	now := time.Now()
	validAfter := now.Add(-validAfterGrace)
	validBefore := now.Add(time.Duration(timeoutSeconds) * time.Second)

	return x402types.ExactAuthorization{
		From:        from.Hex(),
		To:          common.HexToAddress(req.PayTo).Hex(),
		Value:       req.MaxAmountRequired,
		ValidAfter:  strconv.FormatInt(validAfter.Unix(), 10),
		ValidBefore: strconv.FormatInt(validBefore.Unix(), 10),
		Nonce:       nonce,
	}, nil
}

// signEIP3009 hashes and signs an EIP-3009 authorization with an ECDSA key,
// producing a 65-byte r||s||v signature hex-encoded with "0x" prefix: struct
// hash, domain hash, 0x19 0x01 prefix, keccak256, sign, v += 27.
func signEIP3009(privateKey *ecdsa.PrivateKey, domain typedDataDomain, auth x402types.ExactAuthorization) (string, error) {
	typedData := eip3009TypedData(domain, auth)

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return "", fmt.Errorf("hash struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return "", fmt.Errorf("hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	digest := crypto.Keccak256(rawData)

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	signature[64] += 27

	return "0x" + common.Bytes2Hex(signature), nil
}

// signPersonalMessage signs message under the EIP-191 "personal_sign"
// prefix, the same hash construction a Sign-In-With-Ethereum login uses.
func signPersonalMessage(privateKey *ecdsa.PrivateKey, message []byte) (string, error) {
	digest := accounts.TextHash(message)
	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	signature[64] += 27
	return "0x" + common.Bytes2Hex(signature), nil
}

// randomNonce returns a random 32-byte hex nonce, as EIP-3009 requires.
func randomNonce() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return "0x" + common.Bytes2Hex(b[:]), nil
}

// assetDomain resolves the EIP-712 domain for req.Asset. Name and version
// default to USDC's ("USDC", "2"); an upstream may override either via
// extra.name/extra.version. The chain id comes from req.Network.
func assetDomain(req x402types.PaymentRequirements) (typedDataDomain, error) {
	name, _ := req.Extra["name"].(string)
	version, _ := req.Extra["version"].(string)
	if name == "" {
		name = "USDC"
	}
	if version == "" {
		version = "2"
	}
	chainID, err := chainIDForNetwork(req.Network)
	if err != nil {
		return typedDataDomain{}, err
	}
	return typedDataDomain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: req.Asset,
	}, nil
}

// chainIDForNetwork maps the handful of EVM networks this proxy's examples
// use to their numeric chain id.
func chainIDForNetwork(network string) (*big.Int, error) {
	switch network {
	case "base":
		return big.NewInt(8453), nil
	case "base-sepolia":
		return big.NewInt(84532), nil
	case "eip155:8453":
		return big.NewInt(8453), nil
	case "eip155:84532":
		return big.NewInt(84532), nil
	default:
		return nil, fmt.Errorf("wallet: unknown network %q", network)
	}
}
