package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"Launchpad/internal/events"
	"Launchpad/internal/host"
	"Launchpad/internal/voucher"
)

// FinalizationDelay is how long after deployment the owner must wait
// before withdrawing the remaining tokens.
const FinalizationDelay uint64 = 7 * 24 * 60 * 60

// TokenLedger is the token contract a ledger distributes.
// Calls arrive with a context whose sender is the ledger itself.
type TokenLedger interface {
	Transfer(ctx *host.Context, to common.Address, amount *big.Int) error
	TransferFrom(ctx *host.Context, from, to common.Address, amount *big.Int) error
	BalanceOf(ctx *host.Context, holder common.Address) (*big.Int, error)
}

// TokenResolver returns the token contract at an address.
type TokenResolver func(addr common.Address) TokenLedger

// Params configures a new ledger.
type Params struct {
	Token   common.Address // Token is the claimable token
	Signer  common.Address // Signer is the authority that issues vouchers
	Owner   common.Address // Owner may rotate the signer and withdraw
	Name    string         // Name is the EIP-712 domain name
	Version string         // Version is the EIP-712 domain version

	PaymentToken common.Address // PaymentToken is what buyers pay in; zero disables Buy
	Price        *big.Int       // Price is payment units charged per sale token unit
}

// Info describes a ledger's current state.
type Info struct {
	Address        common.Address `json:"address"`
	Token          common.Address `json:"token"`
	Signer         common.Address `json:"signer"`
	Owner          common.Address `json:"owner"`
	DeployedAt     uint64         `json:"deployedAt"`
	WithdrawableAt uint64         `json:"withdrawableAt"`
	Finalized      bool           `json:"finalized"`
	Name           string         `json:"name"`
	Version        string         `json:"version"`
	PaymentToken   common.Address `json:"paymentToken"`
	Price          *big.Int       `json:"price"`
	TotalSold      *big.Int       `json:"totalSold"`
	TotalRaised    *big.Int       `json:"totalRaised"`
}

// Ledger is the claim ledger of one launchpad.
// It holds no state itself; everything lives under its address in the host store.
type Ledger struct {
	address common.Address
	tokens  TokenResolver
}

// At returns a handle for the ledger at addr.
func At(addr common.Address, tokens TokenResolver) *Ledger {
	return &Ledger{address: addr, tokens: tokens}
}

// Deploy creates a ledger at addr, stamped with the current time.
func Deploy(ctx *host.Context, addr common.Address, tokens TokenResolver, p Params) (*Ledger, error) {
	exists, err := ctx.Has(recordKey(addr))
	if err != nil {
		return nil, fmt.Errorf("check ledger:\n%w", err)
	}

	if exists {
		return nil, ErrLaunchpadExists
	}

	switch {
	case p.Token == (common.Address{}):
		return nil, ErrInvalidToken
	case p.Signer == (common.Address{}):
		return nil, ErrInvalidSigner
	case p.Owner == (common.Address{}):
		return nil, ErrInvalidOwner
	case p.Name == "" || p.Version == "":
		return nil, ErrInvalidDomain
	}

	price := new(big.Int)
	if p.Price != nil {
		price.Set(p.Price)
	}

	if p.PaymentToken != (common.Address{}) && price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}

	l := At(addr, tokens)

	rec := &record{
		token:      p.Token,
		signer:     p.Signer,
		owner:      p.Owner,
		deployedAt: ctx.Now(),
		name:       p.Name,
		version:    p.Version,

		paymentToken: p.PaymentToken,
		price:        price,
		totalSold:    new(big.Int),
		totalRaised:  new(big.Int),
	}

	if err := l.save(ctx, rec); err != nil {
		return nil, err
	}

	return l, nil
}

// Address returns the ledger address.
func (l *Ledger) Address() common.Address {
	return l.address
}

// Claim redeems a voucher for the caller.
//
// Checks run in a fixed order: finalization, deadline, signature, then the
// per-round claimed flag. The flag is written before the token moves, so a
// re-entrant claim from inside the transfer sees the round as consumed.
func (l *Ledger) Claim(ctx *host.Context, allowedAmount *big.Int, roundID, deadline uint64, sig []byte) error {
	rec, err := l.load(ctx)
	if err != nil {
		return err
	}

	if rec.finalized {
		return ErrLaunchpadFinalized
	}

	if ctx.Now() > deadline {
		return ErrClaimExpired
	}

	user := ctx.Sender()

	v := voucher.Voucher{
		User:          user,
		AllowedAmount: allowedAmount,
		RoundID:       roundID,
		Deadline:      deadline,
	}

	if err := voucher.Verify(l.domain(ctx, rec), v, sig, rec.signer); err != nil {
		return err
	}

	key := claimKey(l.address, user, roundID)

	claimed, err := ctx.Has(key)
	if err != nil {
		return fmt.Errorf("read claim:\n%w", err)
	}

	if claimed {
		return ErrAlreadyClaimed
	}

	if err := ctx.Set(key, claimedMarker); err != nil {
		return fmt.Errorf("write claim:\n%w", err)
	}

	inner, err := ctx.Call(l.address)
	if err != nil {
		return err
	}

	if err := l.tokens(rec.token).Transfer(inner, user, allowedAmount); err != nil {
		return fmt.Errorf("transfer claim:\n%w", err)
	}

	return l.emit(ctx, TokenClaimedEvent, user, allowedAmount, new(big.Int).SetUint64(roundID))
}

// Buy sells amount sale tokens to the caller for price*amount payment tokens.
// The payment is pulled with TransferFrom, so the buyer must have approved
// the ledger. Totals are updated before any token moves.
func (l *Ledger) Buy(ctx *host.Context, amount *big.Int) error {
	rec, err := l.load(ctx)
	if err != nil {
		return err
	}

	if rec.finalized {
		return ErrLaunchpadFinalized
	}

	if rec.paymentToken == (common.Address{}) {
		return ErrSaleDisabled
	}

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidPurchase
	}

	buyer := ctx.Sender()
	cost := new(big.Int).Mul(rec.price, amount)

	rec.totalSold.Add(rec.totalSold, amount)
	rec.totalRaised.Add(rec.totalRaised, cost)

	if err := l.save(ctx, rec); err != nil {
		return err
	}

	inner, err := ctx.Call(l.address)
	if err != nil {
		return err
	}

	if err := l.tokens(rec.paymentToken).TransferFrom(inner, buyer, l.address, cost); err != nil {
		return fmt.Errorf("collect payment:\n%w", err)
	}

	if err := l.tokens(rec.token).Transfer(inner, buyer, amount); err != nil {
		return fmt.Errorf("deliver tokens:\n%w", err)
	}

	return l.emit(ctx, TokensPurchasedEvent, buyer, amount, cost)
}

// UpdateSigner replaces the authority signer. Owner only.
func (l *Ledger) UpdateSigner(ctx *host.Context, newSigner common.Address) error {
	rec, err := l.load(ctx)
	if err != nil {
		return err
	}

	if ctx.Sender() != rec.owner {
		return ErrUnauthorized
	}

	if newSigner == (common.Address{}) {
		return ErrInvalidSigner
	}

	old := rec.signer
	rec.signer = newSigner

	if err := l.save(ctx, rec); err != nil {
		return err
	}

	return l.emit(ctx, SignerUpdatedEvent, old, newSigner)
}

// WithdrawInvestments finalizes the ledger and sends its whole token balance
// to the owner, followed by the purchase proceeds when there are any.
// Owner only, once, and not before FinalizationDelay has elapsed.
// Vouchers still outstanding become unredeemable.
func (l *Ledger) WithdrawInvestments(ctx *host.Context) error {
	rec, err := l.load(ctx)
	if err != nil {
		return err
	}

	if ctx.Sender() != rec.owner {
		return ErrUnauthorized
	}

	if rec.finalized {
		return ErrAlreadyFinalized
	}

	if ctx.Now() < rec.deployedAt+FinalizationDelay {
		return ErrWithdrawalNotYetAvailable
	}

	rec.finalized = true

	if err := l.save(ctx, rec); err != nil {
		return err
	}

	inner, err := ctx.Call(l.address)
	if err != nil {
		return err
	}

	token := l.tokens(rec.token)

	balance, err := token.BalanceOf(inner, l.address)
	if err != nil {
		return fmt.Errorf("read balance:\n%w", err)
	}

	if err := token.Transfer(inner, rec.owner, balance); err != nil {
		return fmt.Errorf("transfer investments:\n%w", err)
	}

	if err := l.emit(ctx, InvestmentsWithdrawnEvent, rec.owner, balance); err != nil {
		return err
	}

	if err := l.withdrawProceeds(ctx, inner, rec); err != nil {
		return err
	}

	return l.emit(ctx, LaunchpadFinalizedEvent)
}

// withdrawProceeds sends the payment token balance to the owner.
// Nothing happens when buying is disabled or nothing was raised.
func (l *Ledger) withdrawProceeds(ctx, inner *host.Context, rec *record) error {
	if rec.paymentToken == (common.Address{}) || rec.paymentToken == rec.token {
		return nil
	}

	payment := l.tokens(rec.paymentToken)

	proceeds, err := payment.BalanceOf(inner, l.address)
	if err != nil {
		return fmt.Errorf("read proceeds:\n%w", err)
	}

	if proceeds.Sign() == 0 {
		return nil
	}

	if err := payment.Transfer(inner, rec.owner, proceeds); err != nil {
		return fmt.Errorf("transfer proceeds:\n%w", err)
	}

	return l.emit(ctx, ProceedsWithdrawnEvent, rec.owner, proceeds)
}

// TransferOwnership hands the ledger to newOwner. Owner only.
func (l *Ledger) TransferOwnership(ctx *host.Context, newOwner common.Address) error {
	rec, err := l.load(ctx)
	if err != nil {
		return err
	}

	if ctx.Sender() != rec.owner {
		return ErrUnauthorized
	}

	if newOwner == (common.Address{}) {
		return ErrInvalidOwner
	}

	previous := rec.owner
	rec.owner = newOwner

	if err := l.save(ctx, rec); err != nil {
		return err
	}

	return l.emit(ctx, OwnershipTransferredEvent, previous, newOwner)
}

// HasClaimed reports whether user has redeemed round.
func (l *Ledger) HasClaimed(ctx *host.Context, user common.Address, round uint64) (bool, error) {
	if _, err := l.load(ctx); err != nil {
		return false, err
	}

	claimed, err := ctx.Has(claimKey(l.address, user, round))
	if err != nil {
		return false, fmt.Errorf("read claim:\n%w", err)
	}

	return claimed, nil
}

// IsFinalized reports whether the owner has withdrawn.
func (l *Ledger) IsFinalized(ctx *host.Context) (bool, error) {
	rec, err := l.load(ctx)
	if err != nil {
		return false, err
	}

	return rec.finalized, nil
}

// Info returns the ledger's current state.
func (l *Ledger) Info(ctx *host.Context) (Info, error) {
	rec, err := l.load(ctx)
	if err != nil {
		return Info{}, err
	}

	return Info{
		Address:        l.address,
		Token:          rec.token,
		Signer:         rec.signer,
		Owner:          rec.owner,
		DeployedAt:     rec.deployedAt,
		WithdrawableAt: rec.deployedAt + FinalizationDelay,
		Finalized:      rec.finalized,
		Name:           rec.name,
		Version:        rec.version,
		PaymentToken:   rec.paymentToken,
		Price:          new(big.Int).Set(rec.price),
		TotalSold:      new(big.Int).Set(rec.totalSold),
		TotalRaised:    new(big.Int).Set(rec.totalRaised),
	}, nil
}

// Domain returns the EIP-712 domain vouchers for this ledger are signed under.
func (l *Ledger) Domain(ctx *host.Context) (voucher.Domain, error) {
	rec, err := l.load(ctx)
	if err != nil {
		return voucher.Domain{}, err
	}

	return l.domain(ctx, rec), nil
}

func (l *Ledger) domain(ctx *host.Context, rec *record) voucher.Domain {
	return voucher.Domain{
		Name:              rec.name,
		Version:           rec.version,
		ChainID:           ctx.ChainID(),
		VerifyingContract: l.address,
	}
}

// load reads the ledger record, failing with ErrLaunchpadNotFound.
func (l *Ledger) load(ctx *host.Context) (*record, error) {
	data, err := ctx.Get(recordKey(l.address))
	if err != nil {
		return nil, fmt.Errorf("read ledger:\n%w", err)
	}

	if data == nil {
		return nil, ErrLaunchpadNotFound
	}

	return decodeRecord(data), nil
}

// save writes the ledger record.
func (l *Ledger) save(ctx *host.Context, rec *record) error {
	if err := ctx.Set(recordKey(l.address), rec.encode()); err != nil {
		return fmt.Errorf("write ledger:\n%w", err)
	}

	return nil
}

// emit encodes and buffers an event from this ledger.
func (l *Ledger) emit(ctx *host.Context, def events.Definition, values ...any) error {
	ev, err := def.New(l.address, values...)
	if err != nil {
		return err
	}

	return ctx.Emit(ev)
}
