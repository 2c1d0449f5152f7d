package client

import (
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Launchpad/internal/api"
	"Launchpad/internal/factory"
	"Launchpad/internal/host/hosttest"
	"Launchpad/internal/ledger"
	"Launchpad/internal/service"
	"Launchpad/internal/voucher"
)

var (
	admin  = common.HexToAddress("0xad")
	seller = common.HexToAddress("0x5e")
	alice  = common.HexToAddress("0xa1")
	bob    = common.HexToAddress("0xb0")
)

// nodeOptions shape an in-process node.
type nodeOptions struct {
	signed  bool // signed requires signed mutating requests
	payment bool // payment deploys a payment token held by alice before genesis
}

// startNode starts an in-process node with a dev clock and an issuer key.
// It returns the payment token when one was requested.
func startNode(t *testing.T, opts nodeOptions) (*Client, common.Address) {
	t.Helper()

	h, clock := hosttest.New(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	svc := service.New(h, voucher.NewIssuer(key), clock)

	var pay common.Address
	if opts.payment {
		pay, _, err = svc.DeployToken(alice, service.TokenParams{Name: "USD", Symbol: "USD", Supply: big.NewInt(1_000_000)})
		require.NoError(t, err)
	}

	_, err = svc.Genesis(service.GenesisParams{Owner: admin, PaymentToken: pay})
	require.NoError(t, err)

	srv := httptest.NewServer(api.New("", svc, nil, !opts.signed).Handler())
	t.Cleanup(srv.Close)

	return NewClient(srv.URL), pay
}

// newTestNode starts a development node that trusts a bare "from".
func newTestNode(t *testing.T) *Client {
	t.Helper()

	c, _ := startNode(t, nodeOptions{})

	return c
}

// expectAPIError checks that err is an *APIError of the given kind.
func expectAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, status, apiErr.Status, apiErr.Message)
	assert.Equal(t, code, apiErr.Code, apiErr.Message)
}

func mustDeploySale(t *testing.T, c *Client, owner, signer common.Address) (tok, lp common.Address) {
	t.Helper()

	tok, evs, err := c.DeployToken(owner, "Sale", "SALE", 18, big.NewInt(1_000_000))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "Transfer", evs[0].Name)

	lp, _, err = c.CreateLaunchpad(owner, factory.Request{
		Token:       tok,
		Signer:      signer,
		SellerPrice: big.NewInt(2),
	})
	require.NoError(t, err)

	_, err = c.Transfer(owner, tok, lp, big.NewInt(500_000))
	require.NoError(t, err)

	return tok, lp
}

func TestNewClientAddsScheme(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080", NewClient("127.0.0.1:8080/").baseURL)
	assert.Equal(t, "https://node.example", NewClient("https://node.example").baseURL, "explicit scheme should be kept")
}

// TestSaleLifecycle runs a whole sale through the HTTP API: deployment,
// claims in two rounds, a rejected replay and the final withdrawal.
func TestSaleLifecycle(t *testing.T) {
	c := newTestNode(t)

	require.NoError(t, c.Health())

	st, err := c.Status()
	require.NoError(t, err)

	tok, lp := mustDeploySale(t, c, seller, st.Issuer)
	deadline := st.Time + 3600

	v1, err := c.IssueVoucher(seller, lp, alice, big.NewInt(1_000), 1, deadline)
	require.NoError(t, err)
	require.Equal(t, st.Issuer, v1.Signer)
	require.Len(t, v1.Signature, voucher.SignatureLength)

	_, err = c.ClaimVoucher(v1)
	require.NoError(t, err)

	_, err = c.ClaimVoucher(v1)
	expectAPIError(t, err, http.StatusConflict, "AlreadyClaimed")

	v2, err := c.IssueVoucher(seller, lp, alice, big.NewInt(250), 2, deadline)
	require.NoError(t, err)

	_, err = c.ClaimVoucher(v2)
	require.NoError(t, err)

	bal, err := c.Balance(tok, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1_250), bal.Int64())

	claimed, err := c.HasClaimed(lp, alice, 2)
	require.NoError(t, err)
	assert.True(t, claimed)

	_, err = c.WithdrawInvestments(seller, lp)
	expectAPIError(t, err, http.StatusBadRequest, "WithdrawalNotYetAvailable")

	_, err = c.AdvanceTime(ledger.FinalizationDelay)
	require.NoError(t, err)

	evs, err := c.WithdrawInvestments(seller, lp)
	require.NoError(t, err)

	withdrawn := evs[len(evs)-2]
	assert.Equal(t, "InvestmentsWithdrawn", withdrawn.Name)
	assert.Equal(t, "498750", withdrawn.Args["amount"])

	finalized, err := c.IsFinalized(lp)
	require.NoError(t, err)
	assert.True(t, finalized)

	v3, err := c.IssueVoucher(seller, lp, bob, big.NewInt(1), 1, st.Time+ledger.FinalizationDelay+10)
	require.NoError(t, err)

	_, err = c.ClaimVoucher(v3)
	expectAPIError(t, err, http.StatusConflict, "LaunchpadFinalized")
}

func TestAuthoritySignsOffline(t *testing.T) {
	c := newTestNode(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	authority := NewAuthority(key)
	_, lp := mustDeploySale(t, c, seller, authority.Address())

	st, err := c.Status()
	require.NoError(t, err)

	v, err := authority.SignVoucher(c, lp, bob, big.NewInt(77), 3, st.Time)
	require.NoError(t, err)

	// The node's own issuer is not this launchpad's signer.
	nodeVoucher, err := c.IssueVoucher(seller, lp, bob, big.NewInt(77), 3, st.Time)
	require.NoError(t, err)

	_, err = c.ClaimVoucher(nodeVoucher)
	expectAPIError(t, err, http.StatusBadRequest, "InvalidSignature")

	_, err = c.ClaimVoucher(v)
	require.NoError(t, err)

	// Signer rotation invalidates further offline vouchers.
	_, err = c.UpdateSigner(seller, lp, admin)
	require.NoError(t, err)

	v, err = authority.SignVoucher(c, lp, bob, big.NewInt(1), 4, st.Time)
	require.NoError(t, err)

	_, err = c.ClaimVoucher(v)
	expectAPIError(t, err, http.StatusBadRequest, "InvalidSignature")
}

func TestRegistryAndTokenQueries(t *testing.T) {
	c := newTestNode(t)

	st, err := c.Status()
	require.NoError(t, err)

	tok, lp := mustDeploySale(t, c, seller, st.Issuer)

	info, err := c.TokenInfo(tok)
	require.NoError(t, err)
	assert.Equal(t, "SALE", info.Symbol)
	assert.Equal(t, int64(1_000_000), info.TotalSupply.Int64())

	_, err = c.Approve(seller, tok, bob, big.NewInt(9))
	require.NoError(t, err)

	allowance, err := c.Allowance(tok, seller, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(9), allowance.Int64())

	_, err = c.TransferOwnership(seller, lp, alice)
	require.NoError(t, err)

	_, err = c.InvalidateLaunchpad(seller, lp)
	expectAPIError(t, err, http.StatusForbidden, "Unauthorized")

	_, err = c.InvalidateLaunchpad(admin, lp)
	require.NoError(t, err)

	views, err := c.Launchpads()
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, alice, views[0].Owner)
	assert.Equal(t, seller, views[0].Creator)
	assert.False(t, views[0].Valid)

	_, err = c.Launchpad(common.HexToAddress("0xdead"))
	expectAPIError(t, err, http.StatusNotFound, "LaunchpadNotFound")

	evs, err := c.Events(0, 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(1), evs[0].Seq)
}

func TestBuy(t *testing.T) {
	c, pay := startNode(t, nodeOptions{payment: true})

	st, err := c.Status()
	require.NoError(t, err)

	tok, lp := mustDeploySale(t, c, seller, st.Issuer)

	_, err = c.Buy(alice, lp, big.NewInt(100))
	expectAPIError(t, err, http.StatusBadRequest, "InsufficientAllowance")

	_, err = c.Approve(alice, pay, lp, big.NewInt(200))
	require.NoError(t, err)

	evs, err := c.Buy(alice, lp, big.NewInt(100))
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, "TokensPurchased", evs[len(evs)-1].Name)
	assert.Equal(t, "200", evs[len(evs)-1].Args["cost"])

	bal, err := c.Balance(tok, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.Int64())

	view, err := c.Launchpad(lp)
	require.NoError(t, err)
	assert.Equal(t, int64(200), view.TotalRaised.Int64())

	_, err = c.AdvanceTime(ledger.FinalizationDelay)
	require.NoError(t, err)

	_, err = c.WithdrawInvestments(seller, lp)
	require.NoError(t, err)

	proceeds, err := c.Balance(pay, seller)
	require.NoError(t, err)
	assert.Equal(t, int64(200), proceeds.Int64())
}

// TestSignedRequests runs against a node that ignores a bare "from".
func TestSignedRequests(t *testing.T) {
	c, _ := startNode(t, nodeOptions{signed: true})

	sellerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	owner := c.AddKey(sellerKey)

	st, err := c.Status()
	require.NoError(t, err)

	_, _, err = c.DeployToken(seller, "Sale", "SALE", 18, big.NewInt(1))
	expectAPIError(t, err, http.StatusUnauthorized, "Unauthenticated")

	_, lp := mustDeploySale(t, c, owner, st.Issuer)

	_, err = c.IssueVoucher(seller, lp, alice, big.NewInt(10), 1, st.Time+3600)
	expectAPIError(t, err, http.StatusUnauthorized, "Unauthenticated")

	v, err := c.IssueVoucher(owner, lp, alice, big.NewInt(10), 1, st.Time+3600)
	require.NoError(t, err)

	// The voucher user has no key here, so the claim goes out unsigned.
	_, err = c.ClaimVoucher(v)
	expectAPIError(t, err, http.StatusUnauthorized, "Unauthenticated")

	aliceKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	user := c.AddKey(aliceKey)

	v, err = c.IssueVoucher(owner, lp, user, big.NewInt(10), 1, st.Time+3600)
	require.NoError(t, err)

	_, err = c.ClaimVoucher(v)
	require.NoError(t, err)

	claimed, err := c.HasClaimed(lp, user, 1)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestSnapshotUnavailable(t *testing.T) {
	c := newTestNode(t)

	_, err := c.Snapshot()
	expectAPIError(t, err, http.StatusServiceUnavailable, "")
}
