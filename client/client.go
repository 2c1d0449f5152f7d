package client

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"Launchpad/internal/api"
	"Launchpad/internal/factory"
	"Launchpad/internal/service"
	"Launchpad/internal/token"
	"Launchpad/internal/voucher"
)

// requestLifetime is how long a signed request stays valid.
const requestLifetime = time.Minute

// Client connects to a launchpad node via HTTP.
// Requests sent as an address whose key was added with AddKey are signed;
// others carry a bare "from" that only a development node accepts.
type Client struct {
	baseURL string       // baseURL is the node's HTTP root, e.g. "http://127.0.0.1:8080"
	http    *http.Client // http performs the requests

	mu   sync.RWMutex
	keys map[common.Address]*ecdsa.PrivateKey
}

// Authority signs vouchers locally with its own key.
type Authority struct {
	issuer *voucher.Issuer // issuer holds the signing key
}

// NewClient creates a client for the node at nodeAddr.
// A bare "host:port" is treated as plain HTTP.
func NewClient(nodeAddr string) *Client {
	base := strings.TrimRight(nodeAddr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 15 * time.Second},
		keys:    make(map[common.Address]*ecdsa.PrivateKey),
	}
}

// AddKey registers a signing key and returns the address it signs for.
func (c *Client) AddKey(key *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)

	c.mu.Lock()
	c.keys[addr] = key
	c.mu.Unlock()

	return addr
}

func (c *Client) key(addr common.Address) *ecdsa.PrivateKey {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.keys[addr]
}

// Health checks that the node answers.
func (c *Client) Health() error {
	return httpGet(c.http, c.baseURL+"/health", nil)
}

// Status returns chain id, time, factory and issuer of the node.
func (c *Client) Status() (service.Status, error) {
	var st service.Status
	err := httpGet(c.http, c.baseURL+"/status", &st)
	return st, err
}

// DeployToken creates a token whose whole supply goes to from.
func (c *Client) DeployToken(from common.Address, name, symbol string, decimals uint8, supply *big.Int) (common.Address, []api.EventView, error) {
	var resp api.TxResponse

	err := c.postJSON(from, "/tokens", api.DeployTokenRequest{
		From:     from,
		Name:     name,
		Symbol:   symbol,
		Decimals: decimals,
		Supply:   amount(supply),
	}, &resp)
	if err != nil {
		return common.Address{}, nil, err
	}

	return deployed(resp)
}

// TokenInfo returns a token's metadata.
func (c *Client) TokenInfo(tok common.Address) (token.Info, error) {
	var info token.Info
	err := httpGet(c.http, c.baseURL+"/tokens/"+tok.Hex(), &info)
	return info, err
}

// Balance returns holder's balance of tok.
func (c *Client) Balance(tok, holder common.Address) (*big.Int, error) {
	var resp api.BalanceResponse

	if err := httpGet(c.http, c.baseURL+"/tokens/"+tok.Hex()+"/balances/"+holder.Hex(), &resp); err != nil {
		return nil, err
	}

	return resp.Balance, nil
}

// Allowance returns what spender may still move from owner's balance of tok.
func (c *Client) Allowance(tok, owner, spender common.Address) (*big.Int, error) {
	var resp api.BalanceResponse

	if err := httpGet(c.http, c.baseURL+"/tokens/"+tok.Hex()+"/allowances/"+owner.Hex()+"/"+spender.Hex(), &resp); err != nil {
		return nil, err
	}

	return resp.Balance, nil
}

// Transfer moves amount of tok from from to to.
func (c *Client) Transfer(from, tok, to common.Address, value *big.Int) ([]api.EventView, error) {
	return c.post(from, "/tokens/"+tok.Hex()+"/transfer", api.TransferRequest{
		From:   from,
		To:     to,
		Amount: amount(value),
	})
}

// Approve lets spender move up to amount of from's tok.
func (c *Client) Approve(from, tok, spender common.Address, value *big.Int) ([]api.EventView, error) {
	return c.post(from, "/tokens/"+tok.Hex()+"/approve", api.ApproveRequest{
		From:    from,
		Spender: spender,
		Amount:  amount(value),
	})
}

// CreateLaunchpad deploys a claim ledger owned by from.
func (c *Client) CreateLaunchpad(from common.Address, req factory.Request) (common.Address, []api.EventView, error) {
	var resp api.TxResponse

	err := c.postJSON(from, "/launchpads", api.CreateLaunchpadRequest{
		From:        from,
		Token:       req.Token,
		Signer:      req.Signer,
		SellerPrice: amount(req.SellerPrice),
		Name:        req.Name,
		Version:     req.Version,
	}, &resp)
	if err != nil {
		return common.Address{}, nil, err
	}

	return deployed(resp)
}

// Launchpads lists every launchpad in creation order.
func (c *Client) Launchpads() ([]service.LaunchpadView, error) {
	var views []service.LaunchpadView
	err := httpGet(c.http, c.baseURL+"/launchpads", &views)
	return views, err
}

// Launchpad returns one launchpad's state.
func (c *Client) Launchpad(lp common.Address) (service.LaunchpadView, error) {
	var view service.LaunchpadView
	err := httpGet(c.http, c.baseURL+"/launchpads/"+lp.Hex(), &view)
	return view, err
}

// Claim redeems a signed voucher on lp as from.
func (c *Client) Claim(from, lp common.Address, allowedAmount *big.Int, roundID, deadline uint64, sig []byte) ([]api.EventView, error) {
	return c.post(from, "/launchpads/"+lp.Hex()+"/claim", api.ClaimRequest{
		From:          from,
		AllowedAmount: amount(allowedAmount),
		RoundID:       roundID,
		Deadline:      deadline,
		Signature:     hexutil.Bytes(sig),
	})
}

// ClaimVoucher redeems v as its own user.
func (c *Client) ClaimVoucher(v service.SignedVoucher) ([]api.EventView, error) {
	return c.Claim(v.User, v.Launchpad, v.AllowedAmount, v.RoundID, v.Deadline, v.Signature)
}

// Buy purchases amount of lp's sale tokens as from, paying in the factory
// payment token. from must first approve lp for the cost.
func (c *Client) Buy(from, lp common.Address, value *big.Int) ([]api.EventView, error) {
	return c.post(from, "/launchpads/"+lp.Hex()+"/buy", api.BuyRequest{From: from, Amount: amount(value)})
}

// UpdateSigner rotates lp's authority signer.
func (c *Client) UpdateSigner(from, lp, signer common.Address) ([]api.EventView, error) {
	return c.post(from, "/launchpads/"+lp.Hex()+"/signer", api.SignerRequest{From: from, Signer: signer})
}

// WithdrawInvestments finalizes lp and sends its balance to the owner.
func (c *Client) WithdrawInvestments(from, lp common.Address) ([]api.EventView, error) {
	return c.post(from, "/launchpads/"+lp.Hex()+"/withdraw", api.CallerRequest{From: from})
}

// TransferOwnership hands lp to newOwner.
func (c *Client) TransferOwnership(from, lp, newOwner common.Address) ([]api.EventView, error) {
	return c.post(from, "/launchpads/"+lp.Hex()+"/owner", api.OwnerRequest{From: from, NewOwner: newOwner})
}

// InvalidateLaunchpad flags lp as invalid in the factory registry.
func (c *Client) InvalidateLaunchpad(from, lp common.Address) ([]api.EventView, error) {
	return c.post(from, "/launchpads/"+lp.Hex()+"/invalidate", api.CallerRequest{From: from})
}

// HasClaimed reports whether user redeemed round on lp.
func (c *Client) HasClaimed(lp, user common.Address, round uint64) (bool, error) {
	var resp api.ClaimedResponse
	err := httpGet(c.http, c.baseURL+"/launchpads/"+lp.Hex()+"/claims/"+user.Hex()+"/"+strconv.FormatUint(round, 10), &resp)
	return resp.Claimed, err
}

// IsFinalized reports whether lp's investments were withdrawn.
func (c *Client) IsFinalized(lp common.Address) (bool, error) {
	var resp api.FinalizedResponse
	err := httpGet(c.http, c.baseURL+"/launchpads/"+lp.Hex()+"/finalized", &resp)
	return resp.Finalized, err
}

// IssueVoucher asks the node's authority to sign a voucher. from must own lp.
func (c *Client) IssueVoucher(from, lp, user common.Address, allowedAmount *big.Int, roundID, deadline uint64) (service.SignedVoucher, error) {
	var v service.SignedVoucher

	err := c.postJSON(from, "/vouchers", api.VoucherRequest{
		From:          from,
		Launchpad:     lp,
		User:          user,
		AllowedAmount: amount(allowedAmount),
		RoundID:       roundID,
		Deadline:      deadline,
	}, &v)

	return v, err
}

// Events returns up to limit events after since. A zero limit uses the node default.
func (c *Client) Events(since uint64, limit int) ([]api.EventView, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatUint(since, 10))

	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var evs []api.EventView
	err := httpGet(c.http, c.baseURL+"/events?"+q.Encode(), &evs)
	return evs, err
}

// AdvanceTime moves a development node's clock forward.
func (c *Client) AdvanceTime(seconds uint64) (uint64, error) {
	var resp api.TimeResponse
	err := c.postJSON(common.Address{}, "/time/advance", api.AdvanceTimeRequest{Seconds: seconds}, &resp)
	return resp.Time, err
}

// Snapshot downloads the node's latest compressed state snapshot.
func (c *Client) Snapshot() ([]byte, error) {
	return httpGetRaw(c.http, c.baseURL+"/snapshot")
}

// post sends a state-changing request as from and returns its events.
func (c *Client) post(from common.Address, path string, body any) ([]api.EventView, error) {
	var resp api.TxResponse

	if err := c.postJSON(from, path, body, &resp); err != nil {
		return nil, err
	}

	return resp.Events, nil
}

// postJSON posts body to path, signed when the client holds from's key.
func (c *Client) postJSON(from common.Address, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body:\n%w", err)
	}

	header := make(http.Header)

	if key := c.key(from); key != nil {
		nonce := make([]byte, 16)
		if _, err := rand.Read(nonce); err != nil {
			return fmt.Errorf("request nonce:\n%w", err)
		}

		expiry := time.Now().Add(requestLifetime).Unix()

		if err := api.SignRequest(header, key, http.MethodPost, path, expiry, hex.EncodeToString(nonce), data); err != nil {
			return err
		}
	}

	return httpPostJSON(c.http, c.baseURL+path, data, header, result)
}

// NewAuthority wraps a signing key.
func NewAuthority(key *ecdsa.PrivateKey) *Authority {
	return &Authority{issuer: voucher.NewIssuer(key)}
}

// Address returns the authority's signer address.
func (a *Authority) Address() common.Address {
	return a.issuer.Address()
}

// SignVoucher signs a voucher for lp offline, reading the domain from the node.
func (a *Authority) SignVoucher(c *Client, lp, user common.Address, allowedAmount *big.Int, roundID, deadline uint64) (service.SignedVoucher, error) {
	st, err := c.Status()
	if err != nil {
		return service.SignedVoucher{}, fmt.Errorf("get status:\n%w", err)
	}

	view, err := c.Launchpad(lp)
	if err != nil {
		return service.SignedVoucher{}, fmt.Errorf("get launchpad:\n%w", err)
	}

	domain := voucher.Domain{
		Name:              view.Name,
		Version:           view.Version,
		ChainID:           st.ChainID,
		VerifyingContract: lp,
	}

	v := voucher.Voucher{
		User:          user,
		AllowedAmount: allowedAmount,
		RoundID:       roundID,
		Deadline:      deadline,
	}

	sig, err := a.issuer.Sign(domain, v)
	if err != nil {
		return service.SignedVoucher{}, fmt.Errorf("sign voucher:\n%w", err)
	}

	return service.SignedVoucher{
		Launchpad:     lp,
		User:          user,
		AllowedAmount: new(big.Int).Set(allowedAmount),
		RoundID:       roundID,
		Deadline:      deadline,
		Signature:     sig,
		Signer:        a.Address(),
	}, nil
}

// amount converts a request amount; nil stays nil so the node rejects it.
func amount(v *big.Int) *math.HexOrDecimal256 {
	if v == nil {
		return nil
	}

	return (*math.HexOrDecimal256)(new(big.Int).Set(v))
}

// deployed extracts the new contract address from a deployment response.
func deployed(resp api.TxResponse) (common.Address, []api.EventView, error) {
	if resp.Address == nil {
		return common.Address{}, nil, fmt.Errorf("response carries no address")
	}

	return *resp.Address, resp.Events, nil
}
