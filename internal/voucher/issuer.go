package voucher

import (
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Issuer signs claim vouchers with the authority key.
type Issuer struct {
	key     *ecdsa.PrivateKey // key is the authority's secp256k1 key
	address common.Address    // address is derived from key
}

// NewIssuer creates an issuer for key.
func NewIssuer(key *ecdsa.PrivateKey) *Issuer {
	return &Issuer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the authority address ledgers must trust.
func (i *Issuer) Address() common.Address {
	return i.address
}

// Sign returns an r || s || v signature over the voucher digest, with v in {27, 28}.
func (i *Issuer) Sign(d Domain, v Voucher) ([]byte, error) {
	digest, err := Digest(d, v)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest, i.key)
	if err != nil {
		return nil, fmt.Errorf("sign voucher:\n%w", err)
	}

	sig[64] += 27

	return sig, nil
}

// LoadOrGenerateKey loads a hex-encoded secp256k1 key from path, or creates
// and saves a new one when the file does not exist. An empty path yields an
// ephemeral key.
func LoadOrGenerateKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return generateKey()
	}

	key, err := crypto.LoadECDSA(path)
	if os.IsNotExist(err) {
		return generateAndSaveKey(path)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	return key, nil
}

// generateKey creates a new secp256k1 key.
func generateKey() (*ecdsa.PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return key, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := generateKey()
	if err != nil {
		return nil, err
	}

	if err := crypto.SaveECDSA(path, key); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return key, nil
}
