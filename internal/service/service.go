package service

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"Launchpad/internal/events"
	"Launchpad/internal/factory"
	"Launchpad/internal/host"
	"Launchpad/internal/ledger"
	"Launchpad/internal/logger"
	"Launchpad/internal/metrics"
	"Launchpad/internal/token"
	"Launchpad/internal/voucher"
)

const (
	// DefaultDomainName is used when a launchpad request omits its domain name.
	DefaultDomainName = "Launchpad"

	// DefaultDomainVersion is used when a launchpad request omits its domain version.
	DefaultDomainVersion = "1.0"
)

// factoryKey records the address of the node's factory.
var factoryKey = []byte("m:factory")

// GenesisParams configures the factory deployed at first start.
type GenesisParams struct {
	Owner        common.Address // Owner controls the factory
	PaymentToken common.Address // PaymentToken is the creation fee and purchase currency
	CreationFee  *big.Int       // CreationFee is charged per launchpad
}

// TokenParams describes a token to deploy. The caller receives the supply.
type TokenParams struct {
	Name     string   `json:"name"`
	Symbol   string   `json:"symbol"`
	Decimals uint8    `json:"decimals"`
	Supply   *big.Int `json:"supply"`
}

// ClaimRequest carries a voucher redeemed by the caller.
type ClaimRequest struct {
	AllowedAmount *big.Int
	RoundID       uint64
	Deadline      uint64
	Signature     []byte
}

// LaunchpadView combines a ledger's state with its registry entry.
type LaunchpadView struct {
	ledger.Info
	Creator     common.Address `json:"creator"`
	SellerPrice *big.Int       `json:"sellerPrice"`
	CreatedAt   uint64         `json:"createdAt"`
	Valid       bool           `json:"valid"`
}

// SignedVoucher is a voucher ready to be redeemed.
type SignedVoucher struct {
	Launchpad     common.Address `json:"launchpad"`
	User          common.Address `json:"user"`
	AllowedAmount *big.Int       `json:"allowedAmount"`
	RoundID       uint64         `json:"roundId"`
	Deadline      uint64         `json:"deadline"`
	Signature     hexutil.Bytes  `json:"signature"`
	Signer        common.Address `json:"signer"`
}

// Status describes the node.
type Status struct {
	ChainID *big.Int       `json:"chainId"`
	Time    uint64         `json:"time"`
	Factory common.Address `json:"factory"`
	LastSeq uint64         `json:"lastSeq"`
	Issuer  common.Address `json:"issuer"`
	DevMode bool           `json:"devMode"`
}

// Service is the node's single entry point for contract operations.
// Every mutation is one host transaction.
type Service struct {
	host   *host.Host
	issuer *voucher.Issuer   // issuer signs vouchers, nil when no authority key is loaded
	clock  *host.ManualClock // clock is set on development nodes only

	mu      sync.RWMutex
	factory *factory.Factory
}

// New creates a service. issuer and clock may be nil.
func New(h *host.Host, issuer *voucher.Issuer, clock *host.ManualClock) *Service {
	return &Service{host: h, issuer: issuer, clock: clock}
}

// Tokens resolves token contracts for ledgers.
func Tokens(addr common.Address) ledger.TokenLedger {
	return token.At(addr)
}

// Host returns the underlying host.
func (s *Service) Host() *host.Host {
	return s.host
}

// Genesis deploys the factory on first start, or loads the existing one.
// Returns the factory address.
func (s *Service) Genesis(p GenesisParams) (common.Address, error) {
	var existing []byte

	err := s.host.View(func(ctx *host.Context) error {
		var err error
		existing, err = ctx.Get(factoryKey)
		return err
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("read factory pointer:\n%w", err)
	}

	if existing != nil {
		addr := common.BytesToAddress(existing)
		s.setFactory(factory.At(addr, Tokens))
		logger.Info("factory loaded", "address", addr.Hex())

		return addr, nil
	}

	var f *factory.Factory

	_, err = s.host.Execute("genesis", p.Owner, func(ctx *host.Context) error {
		addr, err := ctx.CreateAddress()
		if err != nil {
			return err
		}

		f, err = factory.Deploy(ctx, addr, Tokens, factory.Params{
			Owner:        p.Owner,
			PaymentToken: p.PaymentToken,
			CreationFee:  p.CreationFee,
		})
		if err != nil {
			return err
		}

		return ctx.Set(factoryKey, addr.Bytes())
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy factory:\n%w", err)
	}

	s.setFactory(f)
	logger.Info("factory deployed", "address", f.Address().Hex(), "owner", p.Owner.Hex())

	return f.Address(), nil
}

// Factory returns the factory handle.
func (s *Service) Factory() (*factory.Factory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.factory == nil {
		return nil, ErrNotInitialized
	}

	return s.factory, nil
}

func (s *Service) setFactory(f *factory.Factory) {
	s.mu.Lock()
	s.factory = f
	s.mu.Unlock()
}

// Status reports chain id, time and the factory address.
func (s *Service) Status() (Status, error) {
	seq, err := s.host.LastSeq()
	if err != nil {
		return Status{}, err
	}

	st := Status{
		ChainID: s.host.ChainID(),
		Time:    s.host.Now(),
		LastSeq: seq,
		DevMode: s.clock != nil,
	}

	if f, err := s.Factory(); err == nil {
		st.Factory = f.Address()
	}

	if s.issuer != nil {
		st.Issuer = s.issuer.Address()
	}

	return st, nil
}

// DeployToken creates a token whose whole supply goes to from.
func (s *Service) DeployToken(from common.Address, p TokenParams) (common.Address, []events.Event, error) {
	var addr common.Address

	evs, err := s.host.Execute("deployToken", from, func(ctx *host.Context) error {
		var err error
		if addr, err = ctx.CreateAddress(); err != nil {
			return err
		}

		_, err = token.Deploy(ctx, addr, token.Params{
			Name:     p.Name,
			Symbol:   p.Symbol,
			Decimals: p.Decimals,
			Holder:   from,
			Supply:   p.Supply,
		})
		return err
	})
	if err != nil {
		return common.Address{}, nil, err
	}

	return addr, evs, nil
}

// TransferToken moves amount of tok from from to to.
func (s *Service) TransferToken(from, tok, to common.Address, amount *big.Int) ([]events.Event, error) {
	return s.host.Execute("transfer", from, func(ctx *host.Context) error {
		return token.At(tok).Transfer(ctx, to, amount)
	})
}

// ApproveToken sets from's allowance of tok for spender.
func (s *Service) ApproveToken(from, tok, spender common.Address, amount *big.Int) ([]events.Event, error) {
	return s.host.Execute("approve", from, func(ctx *host.Context) error {
		return token.At(tok).Approve(ctx, spender, amount)
	})
}

// TokenInfo returns a token's metadata.
func (s *Service) TokenInfo(tok common.Address) (token.Info, error) {
	var info token.Info

	err := s.host.View(func(ctx *host.Context) error {
		var err error
		info, err = token.At(tok).Info(ctx)
		return err
	})

	return info, err
}

// TokenBalance returns holder's balance of tok.
func (s *Service) TokenBalance(tok, holder common.Address) (*big.Int, error) {
	var bal *big.Int

	err := s.host.View(func(ctx *host.Context) error {
		var err error
		bal, err = token.At(tok).BalanceOf(ctx, holder)
		return err
	})

	return bal, err
}

// TokenAllowance returns how much spender may move from owner's balance of tok.
func (s *Service) TokenAllowance(tok, owner, spender common.Address) (*big.Int, error) {
	var allowance *big.Int

	err := s.host.View(func(ctx *host.Context) error {
		var err error
		allowance, err = token.At(tok).Allowance(ctx, owner, spender)
		return err
	})

	return allowance, err
}

// CreateLaunchpad deploys a new claim ledger owned by from through the factory.
func (s *Service) CreateLaunchpad(from common.Address, req factory.Request) (common.Address, []events.Event, error) {
	f, err := s.Factory()
	if err != nil {
		return common.Address{}, nil, err
	}

	if req.Name == "" {
		req.Name = DefaultDomainName
	}

	if req.Version == "" {
		req.Version = DefaultDomainVersion
	}

	var addr common.Address

	evs, err := s.host.Execute("createLaunchpad", from, func(ctx *host.Context) error {
		var err error
		addr, err = f.CreateLaunchpad(ctx, req)
		return err
	})
	if err != nil {
		return common.Address{}, nil, err
	}

	logger.Info("launchpad created", "launchpad", addr.Hex(), "creator", from.Hex(), "token", req.Token.Hex())

	return addr, evs, nil
}

// InvalidateLaunchpad marks a launchpad invalid in the factory registry.
func (s *Service) InvalidateLaunchpad(from, lp common.Address) ([]events.Event, error) {
	f, err := s.Factory()
	if err != nil {
		return nil, err
	}

	return s.host.Execute("invalidateLaunchpad", from, func(ctx *host.Context) error {
		return f.InvalidateLaunchpad(ctx, lp)
	})
}

// Claim redeems a voucher on lp for from.
func (s *Service) Claim(from, lp common.Address, req ClaimRequest) ([]events.Event, error) {
	if req.AllowedAmount == nil {
		return nil, fmt.Errorf("%w: allowedAmount is required", ErrInvalidArgument)
	}

	evs, err := s.host.Execute("claim", from, func(ctx *host.Context) error {
		return ledger.At(lp, Tokens).Claim(ctx, req.AllowedAmount, req.RoundID, req.Deadline, req.Signature)
	})

	result := "ok"
	if err != nil {
		if result = ErrorCode(err); result == "" {
			result = "internal"
		}
	}

	metrics.ObserveClaim(result)

	if err != nil {
		return nil, err
	}

	logger.Info("tokens claimed",
		"launchpad", lp.Hex(),
		"user", from.Hex(),
		"amount", req.AllowedAmount.String(),
		"round", req.RoundID,
	)

	return evs, nil
}

// Buy purchases amount of lp's sale tokens for from at the launchpad price.
func (s *Service) Buy(from, lp common.Address, amount *big.Int) ([]events.Event, error) {
	if amount == nil {
		return nil, fmt.Errorf("%w: amount is required", ErrInvalidArgument)
	}

	evs, err := s.host.Execute("buy", from, func(ctx *host.Context) error {
		return ledger.At(lp, Tokens).Buy(ctx, amount)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("tokens purchased", "launchpad", lp.Hex(), "buyer", from.Hex(), "amount", amount.String())

	return evs, nil
}

// UpdateSigner rotates lp's voucher authority.
func (s *Service) UpdateSigner(from, lp, signer common.Address) ([]events.Event, error) {
	return s.host.Execute("updateSigner", from, func(ctx *host.Context) error {
		return ledger.At(lp, Tokens).UpdateSigner(ctx, signer)
	})
}

// WithdrawInvestments finalizes lp and sweeps its tokens to the owner.
func (s *Service) WithdrawInvestments(from, lp common.Address) ([]events.Event, error) {
	evs, err := s.host.Execute("withdrawInvestments", from, ledger.At(lp, Tokens).WithdrawInvestments)
	if err != nil {
		return nil, err
	}

	logger.Info("launchpad finalized", "launchpad", lp.Hex(), "owner", from.Hex())

	return evs, nil
}

// TransferLaunchpadOwnership hands lp to newOwner.
func (s *Service) TransferLaunchpadOwnership(from, lp, newOwner common.Address) ([]events.Event, error) {
	return s.host.Execute("transferOwnership", from, func(ctx *host.Context) error {
		return ledger.At(lp, Tokens).TransferOwnership(ctx, newOwner)
	})
}

// HasClaimed reports whether user redeemed round on lp.
func (s *Service) HasClaimed(lp, user common.Address, round uint64) (bool, error) {
	var claimed bool

	err := s.host.View(func(ctx *host.Context) error {
		var err error
		claimed, err = ledger.At(lp, Tokens).HasClaimed(ctx, user, round)
		return err
	})

	return claimed, err
}

// IsFinalized reports whether lp has been finalized.
func (s *Service) IsFinalized(lp common.Address) (bool, error) {
	var finalized bool

	err := s.host.View(func(ctx *host.Context) error {
		var err error
		finalized, err = ledger.At(lp, Tokens).IsFinalized(ctx)
		return err
	})

	return finalized, err
}

// Launchpad returns a ledger's state and registry entry.
func (s *Service) Launchpad(lp common.Address) (LaunchpadView, error) {
	f, err := s.Factory()
	if err != nil {
		return LaunchpadView{}, err
	}

	var view LaunchpadView

	err = s.host.View(func(ctx *host.Context) error {
		var err error
		view, err = launchpadView(ctx, f, lp)
		return err
	})

	return view, err
}

// Launchpads lists every launchpad in creation order.
func (s *Service) Launchpads() ([]LaunchpadView, error) {
	f, err := s.Factory()
	if err != nil {
		return nil, err
	}

	var views []LaunchpadView

	err = s.host.View(func(ctx *host.Context) error {
		addrs, err := f.AllLaunchpads(ctx)
		if err != nil {
			return err
		}

		views = make([]LaunchpadView, 0, len(addrs))

		for _, addr := range addrs {
			view, err := launchpadView(ctx, f, addr)
			if err != nil {
				return err
			}

			views = append(views, view)
		}

		return nil
	})

	return views, err
}

func launchpadView(ctx *host.Context, f *factory.Factory, lp common.Address) (LaunchpadView, error) {
	info, err := ledger.At(lp, Tokens).Info(ctx)
	if err != nil {
		return LaunchpadView{}, err
	}

	entry, err := f.Launchpad(ctx, lp)
	if err != nil {
		return LaunchpadView{}, err
	}

	return LaunchpadView{
		Info:        info,
		Creator:     entry.Creator,
		SellerPrice: entry.SellerPrice,
		CreatedAt:   entry.CreatedAt,
		Valid:       entry.Valid,
	}, nil
}

// IssueVoucher signs a voucher for user on lp with the node's authority key.
// Only the launchpad owner may request one, since the owner decides who is
// allowed to claim.
func (s *Service) IssueVoucher(from, lp, user common.Address, amount *big.Int, round, deadline uint64) (SignedVoucher, error) {
	if s.issuer == nil {
		return SignedVoucher{}, ErrNoIssuer
	}

	if amount == nil || amount.Sign() < 0 {
		return SignedVoucher{}, fmt.Errorf("%w: allowedAmount must be non-negative", ErrInvalidArgument)
	}

	var domain voucher.Domain

	err := s.host.View(func(ctx *host.Context) error {
		l := ledger.At(lp, Tokens)

		info, err := l.Info(ctx)
		if err != nil {
			return err
		}

		if info.Owner != from {
			return ledger.ErrUnauthorized
		}

		domain, err = l.Domain(ctx)
		return err
	})
	if err != nil {
		return SignedVoucher{}, err
	}

	sig, err := s.issuer.Sign(domain, voucher.Voucher{
		User:          user,
		AllowedAmount: amount,
		RoundID:       round,
		Deadline:      deadline,
	})
	if err != nil {
		return SignedVoucher{}, fmt.Errorf("sign voucher:\n%w", err)
	}

	return SignedVoucher{
		Launchpad:     lp,
		User:          user,
		AllowedAmount: new(big.Int).Set(amount),
		RoundID:       round,
		Deadline:      deadline,
		Signature:     sig,
		Signer:        s.issuer.Address(),
	}, nil
}

// Events returns up to limit committed events after seq.
func (s *Service) Events(since uint64, limit int) ([]events.Event, error) {
	return s.host.Events().Since(since, limit)
}

// Subscribe streams events as they commit. cancel releases the subscription.
func (s *Service) Subscribe(buffer int) (evs <-chan events.Event, cancel func()) {
	return s.host.Events().Subscribe(buffer)
}

// AdvanceTime moves the development clock forward and returns the new time.
func (s *Service) AdvanceTime(seconds uint64) (uint64, error) {
	if s.clock == nil {
		return 0, ErrClockFixed
	}

	now := s.clock.Advance(seconds)
	logger.Info("clock advanced", "seconds", seconds, "now", now)

	return now, nil
}
