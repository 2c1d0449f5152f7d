package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Launchpad/internal/events"
	"Launchpad/internal/host"
	"Launchpad/internal/host/hosttest"
	"Launchpad/internal/token"
	"Launchpad/internal/voucher"
)

var (
	owner      = common.HexToAddress("0x0a")
	alice      = common.HexToAddress("0xa1")
	bob        = common.HexToAddress("0xb2")
	tokenAddr  = common.HexToAddress("0x70")
	ledgerAddr = common.HexToAddress("0x1d")
)

const (
	ledgerFunding = 10_000
	round1        = 1
	round2        = 2
)

type fixture struct {
	t      *testing.T
	h      *host.Host
	clock  *host.ManualClock
	issuer *voucher.Issuer
	ledger *Ledger
	tok    *token.Token
}

func tokenResolver(addr common.Address) TokenLedger {
	return token.At(addr)
}

// newFixture deploys a token, a funded ledger and an authority key.
func newFixture(t *testing.T, resolver TokenResolver) *fixture {
	t.Helper()

	h, clock := hosttest.New(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{t: t, h: h, clock: clock, issuer: voucher.NewIssuer(key), tok: token.At(tokenAddr)}

	_, err = h.Execute("setup", owner, func(ctx *host.Context) error {
		if _, err := token.Deploy(ctx, tokenAddr, token.Params{
			Name:   "Sale Token",
			Symbol: "SALE",
			Holder: owner,
			Supply: big.NewInt(1_000_000),
		}); err != nil {
			return err
		}

		l, err := Deploy(ctx, ledgerAddr, resolver, Params{
			Token:   tokenAddr,
			Signer:  f.issuer.Address(),
			Owner:   owner,
			Name:    "Launchpad",
			Version: "1",
		})
		if err != nil {
			return err
		}

		f.ledger = l

		return f.tok.Transfer(ctx, ledgerAddr, big.NewInt(ledgerFunding))
	})
	require.NoError(t, err)

	return f
}

func (f *fixture) sign(user common.Address, amount int64, round, deadline uint64) []byte {
	f.t.Helper()

	var domain voucher.Domain
	require.NoError(f.t, f.h.View(func(ctx *host.Context) error {
		var err error
		domain, err = f.ledger.Domain(ctx)
		return err
	}))

	sig, err := f.issuer.Sign(domain, voucher.Voucher{
		User:          user,
		AllowedAmount: big.NewInt(amount),
		RoundID:       round,
		Deadline:      deadline,
	})
	require.NoError(f.t, err)

	return sig
}

func (f *fixture) claim(user common.Address, amount int64, round, deadline uint64, sig []byte) ([]events.Event, error) {
	return f.h.Execute("claim", user, func(ctx *host.Context) error {
		return f.ledger.Claim(ctx, big.NewInt(amount), round, deadline, sig)
	})
}

func (f *fixture) exec(sender common.Address, fn func(ctx *host.Context) error) error {
	_, err := f.h.Execute("test", sender, fn)
	return err
}

func (f *fixture) balance(holder common.Address) int64 {
	f.t.Helper()

	var bal *big.Int
	require.NoError(f.t, f.h.View(func(ctx *host.Context) error {
		var err error
		bal, err = f.tok.BalanceOf(ctx, holder)
		return err
	}))

	return bal.Int64()
}

func (f *fixture) hasClaimed(user common.Address, round uint64) bool {
	f.t.Helper()

	var claimed bool
	require.NoError(f.t, f.h.View(func(ctx *host.Context) error {
		var err error
		claimed, err = f.ledger.HasClaimed(ctx, user, round)
		return err
	}))

	return claimed
}

func (f *fixture) info() Info {
	f.t.Helper()

	var info Info
	require.NoError(f.t, f.h.View(func(ctx *host.Context) error {
		var err error
		info, err = f.ledger.Info(ctx)
		return err
	}))

	return info
}

func (f *fixture) deadline() uint64 {
	return f.clock.Now() + 3600
}

func findEvent(evs []events.Event, name string) (events.Event, bool) {
	for _, ev := range evs {
		if ev.Name == name {
			return ev, true
		}
	}

	return events.Event{}, false
}

func TestDeployRecordsState(t *testing.T) {
	f := newFixture(t, tokenResolver)

	info := f.info()
	assert.Equal(t, tokenAddr, info.Token)
	assert.Equal(t, f.issuer.Address(), info.Signer)
	assert.Equal(t, owner, info.Owner)
	assert.Equal(t, uint64(hosttest.StartTime), info.DeployedAt)
	assert.Equal(t, uint64(hosttest.StartTime)+FinalizationDelay, info.WithdrawableAt)
	assert.False(t, info.Finalized)
}

func TestDeployValidation(t *testing.T) {
	h, _ := hosttest.New(t)
	signer := common.HexToAddress("0x5a")

	cases := []struct {
		name   string
		params Params
		want   error
	}{
		{"zero token", Params{Signer: signer, Owner: owner, Name: "L", Version: "1"}, ErrInvalidToken},
		{"zero signer", Params{Token: tokenAddr, Owner: owner, Name: "L", Version: "1"}, ErrInvalidSigner},
		{"zero owner", Params{Token: tokenAddr, Signer: signer, Name: "L", Version: "1"}, ErrInvalidOwner},
		{"empty name", Params{Token: tokenAddr, Signer: signer, Owner: owner, Version: "1"}, ErrInvalidDomain},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.Execute("deploy", owner, func(ctx *host.Context) error {
				_, err := Deploy(ctx, ledgerAddr, tokenResolver, tc.params)
				return err
			})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDeployTwiceFails(t *testing.T) {
	f := newFixture(t, tokenResolver)

	err := f.exec(owner, func(ctx *host.Context) error {
		_, err := Deploy(ctx, ledgerAddr, tokenResolver, Params{
			Token: tokenAddr, Signer: owner, Owner: owner, Name: "L", Version: "1",
		})
		return err
	})
	assert.ErrorIs(t, err, ErrLaunchpadExists)
}

func TestClaim(t *testing.T) {
	f := newFixture(t, tokenResolver)
	deadline := f.deadline()

	evs, err := f.claim(alice, 1000, round1, deadline, f.sign(alice, 1000, round1, deadline))
	require.NoError(t, err)

	assert.Equal(t, int64(1000), f.balance(alice))
	assert.Equal(t, int64(ledgerFunding-1000), f.balance(ledgerAddr))
	assert.True(t, f.hasClaimed(alice, round1))
	assert.False(t, f.hasClaimed(alice, round2))
	assert.False(t, f.hasClaimed(bob, round1))

	ev, ok := findEvent(evs, "TokenClaimed")
	require.True(t, ok)
	assert.Equal(t, ledgerAddr, ev.Contract)

	values, err := TokenClaimedEvent.Decode(ev)
	require.NoError(t, err)
	assert.Equal(t, alice, values["user"])
	assert.Equal(t, big.NewInt(1000), values["amount"])
	assert.Equal(t, big.NewInt(round1), values["roundId"])
}

func TestClaimOncePerRound(t *testing.T) {
	f := newFixture(t, tokenResolver)
	deadline := f.deadline()
	sig := f.sign(alice, 1000, round1, deadline)

	_, err := f.claim(alice, 1000, round1, deadline, sig)
	require.NoError(t, err)

	_, err = f.claim(alice, 1000, round1, deadline, sig)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	_, err = f.claim(alice, 500, round2, deadline, f.sign(alice, 500, round2, deadline))
	require.NoError(t, err)

	assert.Equal(t, int64(1500), f.balance(alice))
}

func TestClaimDeadlineIsInclusive(t *testing.T) {
	f := newFixture(t, tokenResolver)
	deadline := f.clock.Now() + 10

	f.clock.Set(deadline)
	_, err := f.claim(alice, 100, round1, deadline, f.sign(alice, 100, round1, deadline))
	require.NoError(t, err)

	f.clock.Advance(1)
	_, err = f.claim(alice, 100, round2, deadline, f.sign(alice, 100, round2, deadline))
	assert.ErrorIs(t, err, ErrClaimExpired)
}

func TestClaimRejectsForgeries(t *testing.T) {
	f := newFixture(t, tokenResolver)
	deadline := f.deadline()
	sig := f.sign(alice, 1000, round1, deadline)

	t.Run("other sender", func(t *testing.T) {
		_, err := f.claim(bob, 1000, round1, deadline, sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("inflated amount", func(t *testing.T) {
		_, err := f.claim(alice, 5000, round1, deadline, sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("other round", func(t *testing.T) {
		_, err := f.claim(alice, 1000, round2, deadline, sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("extended deadline", func(t *testing.T) {
		_, err := f.claim(alice, 1000, round1, deadline+1, sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := f.claim(alice, 1000, round1, deadline, sig[:64])
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("other key", func(t *testing.T) {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)

		var domain voucher.Domain
		require.NoError(t, f.h.View(func(ctx *host.Context) error {
			domain, err = f.ledger.Domain(ctx)
			return err
		}))

		forged, err := voucher.NewIssuer(key).Sign(domain, voucher.Voucher{
			User: alice, AllowedAmount: big.NewInt(1000), RoundID: round1, Deadline: deadline,
		})
		require.NoError(t, err)

		_, err = f.claim(alice, 1000, round1, deadline, forged)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("other ledger", func(t *testing.T) {
		forged, err := f.issuer.Sign(voucher.Domain{
			Name:              "Launchpad",
			Version:           "1",
			ChainID:           big.NewInt(hosttest.ChainID),
			VerifyingContract: common.HexToAddress("0x1e"),
		}, voucher.Voucher{User: alice, AllowedAmount: big.NewInt(1000), RoundID: round1, Deadline: deadline})
		require.NoError(t, err)

		_, err = f.claim(alice, 1000, round1, deadline, forged)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	assert.False(t, f.hasClaimed(alice, round1))
	assert.Equal(t, int64(0), f.balance(alice))
}

func TestClaimCheckOrder(t *testing.T) {
	f := newFixture(t, tokenResolver)
	deadline := f.deadline()
	sig := f.sign(alice, 1000, round1, deadline)

	_, err := f.claim(alice, 1000, round1, deadline, sig)
	require.NoError(t, err)

	// Bad signature is reported before the already-claimed flag.
	_, err = f.claim(alice, 1000, round1, deadline, sig[:10])
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// Expiry is reported before the signature.
	f.clock.Set(deadline + 1)
	_, err = f.claim(alice, 1000, round1, deadline, sig[:10])
	assert.ErrorIs(t, err, ErrClaimExpired)

	// Finalization is reported before expiry.
	f.clock.Set(hosttest.StartTime + FinalizationDelay)
	require.NoError(t, f.exec(owner, f.ledger.WithdrawInvestments))

	_, err = f.claim(alice, 1000, round1, deadline, sig[:10])
	assert.ErrorIs(t, err, ErrLaunchpadFinalized)
}

func TestClaimRevertsWhenUnderfunded(t *testing.T) {
	f := newFixture(t, tokenResolver)
	deadline := f.deadline()

	evs, err := f.claim(alice, ledgerFunding+1, round1, deadline, f.sign(alice, ledgerFunding+1, round1, deadline))
	assert.ErrorIs(t, err, token.ErrInsufficientBalance)
	assert.Empty(t, evs)

	assert.False(t, f.hasClaimed(alice, round1))
	assert.Equal(t, int64(ledgerFunding), f.balance(ledgerAddr))

	last, err := f.h.Events().LastSeq()
	require.NoError(t, err)

	committed, err := f.h.Events().Since(0, 0)
	require.NoError(t, err)
	_, found := findEvent(committed, "TokenClaimed")
	assert.False(t, found)
	assert.Equal(t, uint64(len(committed)), last)
}

// reentrantToken calls back into the ledger from inside Transfer,
// replaying the same voucher as the claiming user.
type reentrantToken struct {
	*token.Token

	ledger     *Ledger
	user       common.Address
	amount     int64
	round      uint64
	deadline   uint64
	sig        []byte
	calls      int
	reentryErr error
}

func (r *reentrantToken) Transfer(ctx *host.Context, to common.Address, amount *big.Int) error {
	r.calls++

	if r.calls == 1 {
		again, err := ctx.Call(r.user)
		if err != nil {
			return err
		}

		r.reentryErr = r.ledger.Claim(again, big.NewInt(r.amount), r.round, r.deadline, r.sig)
	}

	return r.Token.Transfer(ctx, to, amount)
}

func TestReentrantClaimIsRejected(t *testing.T) {
	evil := &reentrantToken{Token: token.At(tokenAddr)}
	f := newFixture(t, func(common.Address) TokenLedger { return evil })

	deadline := f.deadline()
	sig := f.sign(alice, 1000, round1, deadline)

	evil.ledger = f.ledger
	evil.user = alice
	evil.amount = 1000
	evil.round = round1
	evil.deadline = deadline
	evil.sig = sig

	_, err := f.claim(alice, 1000, round1, deadline, sig)
	require.NoError(t, err)

	assert.ErrorIs(t, evil.reentryErr, ErrAlreadyClaimed)
	assert.Equal(t, 1, evil.calls)
	assert.Equal(t, int64(1000), f.balance(alice))
}

func TestUpdateSigner(t *testing.T) {
	f := newFixture(t, tokenResolver)
	deadline := f.deadline()
	oldSig := f.sign(alice, 1000, round1, deadline)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	next := voucher.NewIssuer(key)

	err = f.exec(bob, func(ctx *host.Context) error {
		return f.ledger.UpdateSigner(ctx, next.Address())
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = f.exec(owner, func(ctx *host.Context) error {
		return f.ledger.UpdateSigner(ctx, common.Address{})
	})
	assert.ErrorIs(t, err, ErrInvalidSigner)

	evs, err := f.h.Execute("updateSigner", owner, func(ctx *host.Context) error {
		return f.ledger.UpdateSigner(ctx, next.Address())
	})
	require.NoError(t, err)
	require.Len(t, evs, 1)

	values, err := SignerUpdatedEvent.Decode(evs[0])
	require.NoError(t, err)
	assert.Equal(t, f.issuer.Address(), values["oldSigner"])
	assert.Equal(t, next.Address(), values["newSigner"])

	_, err = f.claim(alice, 1000, round1, deadline, oldSig)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	f.issuer = next
	_, err = f.claim(alice, 1000, round1, deadline, f.sign(alice, 1000, round1, deadline))
	require.NoError(t, err)
}

func TestWithdrawInvestments(t *testing.T) {
	f := newFixture(t, tokenResolver)
	deadline := f.clock.Now() + 2*FinalizationDelay

	_, err := f.claim(alice, 1000, round1, deadline, f.sign(alice, 1000, round1, deadline))
	require.NoError(t, err)

	f.clock.Set(hosttest.StartTime + FinalizationDelay - 1)
	err = f.exec(owner, f.ledger.WithdrawInvestments)
	assert.ErrorIs(t, err, ErrWithdrawalNotYetAvailable)

	f.clock.Set(hosttest.StartTime + FinalizationDelay)
	err = f.exec(bob, f.ledger.WithdrawInvestments)
	assert.ErrorIs(t, err, ErrUnauthorized)

	ownerBefore := f.balance(owner)

	evs, err := f.h.Execute("withdraw", owner, f.ledger.WithdrawInvestments)
	require.NoError(t, err)

	assert.Equal(t, int64(0), f.balance(ledgerAddr))
	assert.Equal(t, ownerBefore+ledgerFunding-1000, f.balance(owner))
	assert.True(t, f.info().Finalized)

	withdrawn, ok := findEvent(evs, "InvestmentsWithdrawn")
	require.True(t, ok)
	values, err := InvestmentsWithdrawnEvent.Decode(withdrawn)
	require.NoError(t, err)
	assert.Equal(t, owner, values["owner"])
	assert.Equal(t, big.NewInt(ledgerFunding-1000), values["amount"])

	_, ok = findEvent(evs, "LaunchpadFinalized")
	assert.True(t, ok)

	err = f.exec(owner, f.ledger.WithdrawInvestments)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	// Outstanding vouchers die with finalization.
	_, err = f.claim(bob, 10, round1, deadline, f.sign(bob, 10, round1, deadline))
	assert.ErrorIs(t, err, ErrLaunchpadFinalized)
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t, tokenResolver)

	err := f.exec(bob, func(ctx *host.Context) error {
		return f.ledger.TransferOwnership(ctx, bob)
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = f.exec(owner, func(ctx *host.Context) error {
		return f.ledger.TransferOwnership(ctx, common.Address{})
	})
	assert.ErrorIs(t, err, ErrInvalidOwner)

	require.NoError(t, f.exec(owner, func(ctx *host.Context) error {
		return f.ledger.TransferOwnership(ctx, bob)
	}))
	assert.Equal(t, bob, f.info().Owner)

	f.clock.Set(hosttest.StartTime + FinalizationDelay)
	assert.ErrorIs(t, f.exec(owner, f.ledger.WithdrawInvestments), ErrUnauthorized)
	require.NoError(t, f.exec(bob, f.ledger.WithdrawInvestments))
	assert.Equal(t, int64(ledgerFunding), f.balance(bob))
}

func TestUnknownLedger(t *testing.T) {
	h, _ := hosttest.New(t)

	err := h.View(func(ctx *host.Context) error {
		_, err := At(ledgerAddr, tokenResolver).IsFinalized(ctx)
		return err
	})
	assert.ErrorIs(t, err, ErrLaunchpadNotFound)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "AlreadyClaimed", ErrorCode(ErrAlreadyClaimed))
	assert.Equal(t, "InvalidSignature", ErrorCode(voucher.ErrInvalidSignature))
	assert.Equal(t, "ClaimExpired", ErrorCode(ErrClaimExpired))
	assert.Equal(t, "", ErrorCode(token.ErrInsufficientBalance))
	assert.Equal(t, "", ErrorCode(nil))
}
