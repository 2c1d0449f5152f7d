package voucher

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// PrimaryType is the EIP-712 struct name of a claim voucher.
	PrimaryType = "Claim"

	// ClaimTypeString is the canonical type descriptor hashed into every voucher.
	ClaimTypeString = "Claim(address user,uint256 allowedAmount,uint256 roundId,uint256 deadline)"

	// SignatureLength is the size of an r || s || v secp256k1 signature.
	SignatureLength = 65
)

// ErrInvalidSignature is returned for malformed signatures and signer mismatches.
var ErrInvalidSignature = errors.New("invalid signature")

// claimTypes lists the voucher and domain fields in canonical order.
var claimTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryType: {
		{Name: "user", Type: "address"},
		{Name: "allowedAmount", Type: "uint256"},
		{Name: "roundId", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// Domain binds a voucher to one ledger instance on one chain.
type Domain struct {
	Name              string         // Name is the ledger's EIP-712 domain name
	Version           string         // Version is the ledger's EIP-712 domain version
	ChainID           *big.Int       // ChainID is the host chain id
	VerifyingContract common.Address // VerifyingContract is the ledger address
}

// Voucher authorizes User to claim AllowedAmount in round RoundID until Deadline.
type Voucher struct {
	User          common.Address // User is the only address allowed to redeem
	AllowedAmount *big.Int       // AllowedAmount is the token quantity for this round
	RoundID       uint64         // RoundID is the opaque distribution round
	Deadline      uint64         // Deadline is the last valid unix second
}

// TypedData builds the EIP-712 payload for a voucher under a domain.
func TypedData(d Domain, v Voucher) apitypes.TypedData {
	chainID := new(big.Int)
	if d.ChainID != nil {
		chainID.Set(d.ChainID)
	}

	amount := new(big.Int)
	if v.AllowedAmount != nil {
		amount.Set(v.AllowedAmount)
	}

	return apitypes.TypedData{
		Types:       claimTypes,
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"user":          v.User.Hex(),
			"allowedAmount": amount.String(),
			"roundId":       new(big.Int).SetUint64(v.RoundID).String(),
			"deadline":      new(big.Int).SetUint64(v.Deadline).String(),
		},
	}
}

// Digest returns the 32-byte EIP-712 hash that the authority signs.
func Digest(d Domain, v Voucher) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(TypedData(d, v))
	if err != nil {
		return nil, fmt.Errorf("hash typed data:\n%w", err)
	}

	return hash, nil
}

// Recover returns the address that produced sig over digest.
// It fails closed: wrong length, bad recovery id, out-of-range or high-s
// values, and a zero recovered address are all ErrInvalidSignature.
func Recover(digest, sig []byte) (common.Address, error) {
	if len(digest) != common.HashLength || len(sig) != SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}

	v := sig[64]
	if v >= 27 {
		v -= 27
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])

	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, ErrInvalidSignature
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	normalized[64] = v

	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}

	addr := crypto.PubkeyToAddress(*pub)
	if addr == (common.Address{}) {
		return common.Address{}, ErrInvalidSignature
	}

	return addr, nil
}

// Verify checks that sig over (d, v) was produced by expected.
func Verify(d Domain, v Voucher, sig []byte, expected common.Address) error {
	if expected == (common.Address{}) {
		return ErrInvalidSignature
	}

	digest, err := Digest(d, v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	signer, err := Recover(digest, sig)
	if err != nil {
		return err
	}

	if signer != expected {
		return ErrInvalidSignature
	}

	return nil
}
