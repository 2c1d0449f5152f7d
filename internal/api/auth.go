package api

import (
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"Launchpad/internal/service"
	"Launchpad/internal/voucher"
)

// Mutating requests are authenticated by an EIP-191 personal signature over
// the method, path, expiry, nonce and raw body. The recovered address is the
// caller; a "from" field in the body must match it when present.
const (
	SignatureHeader = "X-Launchpad-Signature"
	ExpiryHeader    = "X-Launchpad-Expiry"
	NonceHeader     = "X-Launchpad-Nonce"

	// MaxRequestLifetime bounds how far in the future an expiry may be.
	MaxRequestLifetime = 5 * time.Minute
)

// RequestDigest returns the hash a caller signs to authenticate a request.
func RequestDigest(method, path string, expiry int64, nonce string, body []byte) []byte {
	msg := fmt.Appendf(nil, "%s %s\n%d\n%s\n", method, path, expiry, nonce)
	msg = append(msg, body...)

	return accounts.TextHash(msg)
}

// SignRequest sets the authentication headers of a request with body.
func SignRequest(h http.Header, key *ecdsa.PrivateKey, method, path string, expiry int64, nonce string, body []byte) error {
	sig, err := crypto.Sign(RequestDigest(method, path, expiry, nonce, body), key)
	if err != nil {
		return fmt.Errorf("sign request:\n%w", err)
	}

	sig[64] += 27

	h.Set(SignatureHeader, hexutil.Encode(sig))
	h.Set(ExpiryHeader, strconv.FormatInt(expiry, 10))
	h.Set(NonceHeader, nonce)

	return nil
}

// signedRequest is a request body naming its caller.
type signedRequest interface {
	sender() common.Address
}

// decodeSigned reads a mutating request into dst and returns its caller.
// Outside dev mode the caller is always the recovered signer.
func (s *Server) decodeSigned(r *http.Request, dst signedRequest) (common.Address, error) {
	body, err := readBody(r)
	if err != nil {
		return common.Address{}, err
	}

	if err := unmarshalBody(body, dst); err != nil {
		return common.Address{}, err
	}

	signer, signed, err := s.authenticate(r, body)
	if err != nil {
		return common.Address{}, err
	}

	from := dst.sender()

	switch {
	case signed:
		if from != (common.Address{}) && from != signer {
			return common.Address{}, fmt.Errorf("%w: from %s does not match signer %s", service.ErrUnauthenticated, from.Hex(), signer.Hex())
		}

		return signer, nil
	case s.devMode:
		if from == (common.Address{}) {
			return common.Address{}, errMissingSender
		}

		return from, nil
	default:
		return common.Address{}, fmt.Errorf("%w: missing %s header", service.ErrUnauthenticated, SignatureHeader)
	}
}

// authenticate verifies the signature headers, if any, and returns the signer.
func (s *Server) authenticate(r *http.Request, body []byte) (common.Address, bool, error) {
	raw := r.Header.Get(SignatureHeader)
	if raw == "" {
		return common.Address{}, false, nil
	}

	sig, err := hexutil.Decode(raw)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("%w: malformed signature", service.ErrUnauthenticated)
	}

	expiry, err := strconv.ParseInt(r.Header.Get(ExpiryHeader), 10, 64)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("%w: malformed %s", service.ErrUnauthenticated, ExpiryHeader)
	}

	nonce := r.Header.Get(NonceHeader)
	if nonce == "" {
		return common.Address{}, false, fmt.Errorf("%w: missing %s", service.ErrUnauthenticated, NonceHeader)
	}

	now := s.now()

	if expiry < now.Unix() {
		return common.Address{}, false, fmt.Errorf("%w: request expired", service.ErrUnauthenticated)
	}

	if expiry > now.Add(MaxRequestLifetime).Unix() {
		return common.Address{}, false, fmt.Errorf("%w: expiry too far ahead", service.ErrUnauthenticated)
	}

	digest := RequestDigest(r.Method, r.URL.Path, expiry, nonce, body)

	signer, err := voucher.Recover(digest, sig)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("%w: %v", service.ErrUnauthenticated, err)
	}

	if !s.replay.remember(common.BytesToHash(digest), expiry, now.Unix()) {
		return common.Address{}, false, fmt.Errorf("%w: request replayed", service.ErrUnauthenticated)
	}

	return signer, true, nil
}

// replayGuard remembers accepted request digests until they expire.
type replayGuard struct {
	mu   sync.Mutex
	seen map[common.Hash]int64 // seen maps digest to expiry
}

func newReplayGuard() *replayGuard {
	return &replayGuard{seen: make(map[common.Hash]int64)}
}

// remember records digest and reports whether it was unseen.
func (g *replayGuard) remember(digest common.Hash, expiry, now int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for d, exp := range g.seen {
		if exp < now {
			delete(g.seen, d)
		}
	}

	if _, ok := g.seen[digest]; ok {
		return false
	}

	g.seen[digest] = expiry

	return true
}
