package factory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	flatbuffers "github.com/google/flatbuffers/go"

	"Launchpad/internal/events"
	"Launchpad/internal/host"
	"Launchpad/internal/ledger"
	"Launchpad/internal/token"
	"Launchpad/internal/types"
)

var (
	ErrInvalidTokenAddress  = errors.New("invalid token address")
	ErrInvalidSignerAddress = errors.New("invalid signer address")
	ErrInvalidSellerPrice   = errors.New("invalid seller price")
	ErrInvalidPaymentToken  = errors.New("invalid payment token")
	ErrFactoryNotFound      = errors.New("factory not found")
	ErrFactoryExists        = errors.New("factory already deployed")

	ErrUnauthorized      = ledger.ErrUnauthorized
	ErrInvalidOwner      = ledger.ErrInvalidOwner
	ErrLaunchpadNotFound = ledger.ErrLaunchpadNotFound
)

var (
	LaunchpadCreatedEvent = events.Define("LaunchpadCreated",
		events.Arg{Name: "launchpad", Type: "address"},
		events.Arg{Name: "token", Type: "address"},
		events.Arg{Name: "signer", Type: "address"},
		events.Arg{Name: "sellerPrice", Type: "uint256"},
	)

	LaunchpadInvalidatedEvent = events.Define("LaunchpadInvalidated",
		events.Arg{Name: "launchpad", Type: "address"},
	)
)

// Params configures a new factory.
type Params struct {
	Owner        common.Address // Owner receives creation fees and may invalidate launchpads
	PaymentToken common.Address // PaymentToken is the fee and purchase currency; zero disables both
	CreationFee  *big.Int       // CreationFee is charged per launchpad when non-zero
}

// Request describes a launchpad to create.
type Request struct {
	Token       common.Address // Token is the claimable token
	Signer      common.Address // Signer is the voucher authority
	SellerPrice *big.Int       // SellerPrice is what Buy charges per token unit, in the payment token
	Name        string         // Name is the ledger's EIP-712 domain name
	Version     string         // Version is the ledger's EIP-712 domain version
}

// Info describes the factory configuration.
type Info struct {
	Address      common.Address `json:"address"`
	Owner        common.Address `json:"owner"`
	PaymentToken common.Address `json:"paymentToken"`
	CreationFee  *big.Int       `json:"creationFee"`
	Count        uint64         `json:"count"`
}

// Entry is the registry row of one launchpad.
type Entry struct {
	Launchpad   common.Address `json:"launchpad"`
	Creator     common.Address `json:"creator"`
	Token       common.Address `json:"token"`
	SellerPrice *big.Int       `json:"sellerPrice"`
	CreatedAt   uint64         `json:"createdAt"`
	Valid       bool           `json:"valid"`
}

// Factory deploys claim ledgers and keeps a registry of them.
type Factory struct {
	address common.Address
	tokens  ledger.TokenResolver
}

// At returns a handle for the factory at addr.
func At(addr common.Address, tokens ledger.TokenResolver) *Factory {
	return &Factory{address: addr, tokens: tokens}
}

// Deploy creates a factory at addr.
func Deploy(ctx *host.Context, addr common.Address, tokens ledger.TokenResolver, p Params) (*Factory, error) {
	exists, err := ctx.Has(recordKey(addr))
	if err != nil {
		return nil, fmt.Errorf("check factory:\n%w", err)
	}

	if exists {
		return nil, ErrFactoryExists
	}

	if p.Owner == (common.Address{}) {
		return nil, ErrInvalidOwner
	}

	fee := new(big.Int)
	if p.CreationFee != nil {
		fee.Set(p.CreationFee)
	}

	if fee.Sign() < 0 || (fee.Sign() > 0 && p.PaymentToken == (common.Address{})) {
		return nil, ErrInvalidPaymentToken
	}

	f := At(addr, tokens)

	rec := &record{owner: p.Owner, paymentToken: p.PaymentToken, creationFee: fee}
	if err := f.save(ctx, rec); err != nil {
		return nil, err
	}

	return f, nil
}

// Address returns the factory address.
func (f *Factory) Address() common.Address {
	return f.address
}

// CreateLaunchpad deploys a ledger owned by the caller and registers it.
// The creation fee, if any, is pulled from the caller with TransferFrom,
// so the caller must have approved the factory beforehand.
func (f *Factory) CreateLaunchpad(ctx *host.Context, req Request) (common.Address, error) {
	rec, err := f.load(ctx)
	if err != nil {
		return common.Address{}, err
	}

	if req.Token == (common.Address{}) {
		return common.Address{}, ErrInvalidTokenAddress
	}

	if _, err := token.At(req.Token).Info(ctx); err != nil {
		if errors.Is(err, token.ErrTokenNotFound) {
			return common.Address{}, ErrInvalidTokenAddress
		}
		return common.Address{}, err
	}

	if req.Signer == (common.Address{}) {
		return common.Address{}, ErrInvalidSignerAddress
	}

	if req.SellerPrice == nil || req.SellerPrice.Sign() <= 0 {
		return common.Address{}, ErrInvalidSellerPrice
	}

	creator := ctx.Sender()

	if rec.creationFee.Sign() > 0 {
		inner, err := ctx.Call(f.address)
		if err != nil {
			return common.Address{}, err
		}

		if err := token.At(rec.paymentToken).TransferFrom(inner, creator, rec.owner, rec.creationFee); err != nil {
			return common.Address{}, fmt.Errorf("charge creation fee:\n%w", err)
		}
	}

	deployer, err := ctx.Call(f.address)
	if err != nil {
		return common.Address{}, err
	}

	addr, err := deployer.CreateAddress()
	if err != nil {
		return common.Address{}, err
	}

	if _, err := ledger.Deploy(ctx, addr, f.tokens, ledger.Params{
		Token:   req.Token,
		Signer:  req.Signer,
		Owner:   creator,
		Name:    req.Name,
		Version: req.Version,

		PaymentToken: rec.paymentToken,
		Price:        req.SellerPrice,
	}); err != nil {
		return common.Address{}, fmt.Errorf("deploy ledger:\n%w", err)
	}

	entry := Entry{
		Launchpad:   addr,
		Creator:     creator,
		Token:       req.Token,
		SellerPrice: new(big.Int).Set(req.SellerPrice),
		CreatedAt:   ctx.Now(),
		Valid:       true,
	}

	if err := f.saveEntry(ctx, entry); err != nil {
		return common.Address{}, err
	}

	if err := ctx.Set(indexKey(f.address, rec.count), addr.Bytes()); err != nil {
		return common.Address{}, fmt.Errorf("write index:\n%w", err)
	}

	rec.count++
	if err := f.save(ctx, rec); err != nil {
		return common.Address{}, err
	}

	if err := f.emit(ctx, LaunchpadCreatedEvent, addr, req.Token, req.Signer, entry.SellerPrice); err != nil {
		return common.Address{}, err
	}

	return addr, nil
}

// InvalidateLaunchpad flags a launchpad as invalid in the registry. Owner only.
func (f *Factory) InvalidateLaunchpad(ctx *host.Context, launchpad common.Address) error {
	rec, err := f.load(ctx)
	if err != nil {
		return err
	}

	if ctx.Sender() != rec.owner {
		return ErrUnauthorized
	}

	entry, err := f.Launchpad(ctx, launchpad)
	if err != nil {
		return err
	}

	entry.Valid = false

	if err := f.saveEntry(ctx, entry); err != nil {
		return err
	}

	return f.emit(ctx, LaunchpadInvalidatedEvent, launchpad)
}

// TransferOwnership hands the factory to newOwner. Owner only.
func (f *Factory) TransferOwnership(ctx *host.Context, newOwner common.Address) error {
	rec, err := f.load(ctx)
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

	if err := f.save(ctx, rec); err != nil {
		return err
	}

	return f.emit(ctx, ledger.OwnershipTransferredEvent, previous, newOwner)
}

// Info returns the factory configuration.
func (f *Factory) Info(ctx *host.Context) (Info, error) {
	rec, err := f.load(ctx)
	if err != nil {
		return Info{}, err
	}

	return Info{
		Address:      f.address,
		Owner:        rec.owner,
		PaymentToken: rec.paymentToken,
		CreationFee:  new(big.Int).Set(rec.creationFee),
		Count:        rec.count,
	}, nil
}

// Launchpad returns the registry entry of a launchpad.
func (f *Factory) Launchpad(ctx *host.Context, launchpad common.Address) (Entry, error) {
	data, err := ctx.Get(entryKey(f.address, launchpad))
	if err != nil {
		return Entry{}, fmt.Errorf("read launchpad entry:\n%w", err)
	}

	if data == nil {
		return Entry{}, ErrLaunchpadNotFound
	}

	return decodeEntry(data), nil
}

// IsLaunchpadValid reports whether launchpad was created here and not invalidated.
func (f *Factory) IsLaunchpadValid(ctx *host.Context, launchpad common.Address) (bool, error) {
	entry, err := f.Launchpad(ctx, launchpad)
	if errors.Is(err, ErrLaunchpadNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return entry.Valid, nil
}

// LaunchpadCount returns how many launchpads have been created.
func (f *Factory) LaunchpadCount(ctx *host.Context) (uint64, error) {
	rec, err := f.load(ctx)
	if err != nil {
		return 0, err
	}

	return rec.count, nil
}

// AllLaunchpads returns every launchpad address in creation order.
func (f *Factory) AllLaunchpads(ctx *host.Context) ([]common.Address, error) {
	if _, err := f.load(ctx); err != nil {
		return nil, err
	}

	var out []common.Address

	err := ctx.IteratePrefix(indexPrefix(f.address), func(_, value []byte) error {
		out = append(out, common.BytesToAddress(value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read launchpad index:\n%w", err)
	}

	return out, nil
}

// load reads the factory record, failing with ErrFactoryNotFound.
func (f *Factory) load(ctx *host.Context) (*record, error) {
	data, err := ctx.Get(recordKey(f.address))
	if err != nil {
		return nil, fmt.Errorf("read factory:\n%w", err)
	}

	if data == nil {
		return nil, ErrFactoryNotFound
	}

	return decodeRecord(data), nil
}

// save writes the factory record.
func (f *Factory) save(ctx *host.Context, rec *record) error {
	if err := ctx.Set(recordKey(f.address), rec.encode()); err != nil {
		return fmt.Errorf("write factory:\n%w", err)
	}

	return nil
}

// saveEntry writes a launchpad registry entry.
func (f *Factory) saveEntry(ctx *host.Context, e Entry) error {
	if err := ctx.Set(entryKey(f.address, e.Launchpad), encodeEntry(e)); err != nil {
		return fmt.Errorf("write launchpad entry:\n%w", err)
	}

	return nil
}

// emit encodes and buffers an event from this factory.
func (f *Factory) emit(ctx *host.Context, def events.Definition, values ...any) error {
	ev, err := def.New(f.address, values...)
	if err != nil {
		return err
	}

	return ctx.Emit(ev)
}

// record is the decoded factory configuration.
type record struct {
	owner        common.Address
	paymentToken common.Address
	creationFee  *big.Int
	count        uint64
}

func (r *record) encode() []byte {
	builder := flatbuffers.NewBuilder(128)

	ownerVec := builder.CreateByteVector(r.owner.Bytes())
	paymentVec := builder.CreateByteVector(r.paymentToken.Bytes())
	feeVec := builder.CreateByteVector(r.creationFee.Bytes())

	types.FactoryRecordStart(builder)
	types.FactoryRecordAddOwner(builder, ownerVec)
	types.FactoryRecordAddPaymentToken(builder, paymentVec)
	types.FactoryRecordAddCreationFee(builder, feeVec)
	types.FactoryRecordAddCount(builder, r.count)
	builder.Finish(types.FactoryRecordEnd(builder))

	return builder.FinishedBytes()
}

func decodeRecord(data []byte) *record {
	rec := types.GetRootAsFactoryRecord(data, 0)

	return &record{
		owner:        common.BytesToAddress(rec.OwnerBytes()),
		paymentToken: common.BytesToAddress(rec.PaymentTokenBytes()),
		creationFee:  new(big.Int).SetBytes(rec.CreationFeeBytes()),
		count:        rec.Count(),
	}
}

func encodeEntry(e Entry) []byte {
	builder := flatbuffers.NewBuilder(160)

	launchpadVec := builder.CreateByteVector(e.Launchpad.Bytes())
	creatorVec := builder.CreateByteVector(e.Creator.Bytes())
	tokenVec := builder.CreateByteVector(e.Token.Bytes())
	priceVec := builder.CreateByteVector(e.SellerPrice.Bytes())

	types.LaunchpadEntryStart(builder)
	types.LaunchpadEntryAddLaunchpad(builder, launchpadVec)
	types.LaunchpadEntryAddCreator(builder, creatorVec)
	types.LaunchpadEntryAddToken(builder, tokenVec)
	types.LaunchpadEntryAddSellerPrice(builder, priceVec)
	types.LaunchpadEntryAddCreatedAt(builder, e.CreatedAt)
	types.LaunchpadEntryAddValid(builder, e.Valid)
	builder.Finish(types.LaunchpadEntryEnd(builder))

	return builder.FinishedBytes()
}

func decodeEntry(data []byte) Entry {
	rec := types.GetRootAsLaunchpadEntry(data, 0)

	return Entry{
		Launchpad:   common.BytesToAddress(rec.LaunchpadBytes()),
		Creator:     common.BytesToAddress(rec.CreatorBytes()),
		Token:       common.BytesToAddress(rec.TokenBytes()),
		SellerPrice: new(big.Int).SetBytes(rec.SellerPriceBytes()),
		CreatedAt:   rec.CreatedAt(),
		Valid:       rec.Valid(),
	}
}

var (
	recordPrefix = []byte("f:r") // f:r + factory
	entryPrefix  = []byte("f:e") // f:e + factory + launchpad
	indexRoot    = []byte("f:i") // f:i + factory + big-endian index
)

func recordKey(factory common.Address) []byte {
	return append(append([]byte{}, recordPrefix...), factory.Bytes()...)
}

func entryKey(factory, launchpad common.Address) []byte {
	key := append(append([]byte{}, entryPrefix...), factory.Bytes()...)
	return append(key, launchpad.Bytes()...)
}

func indexPrefix(factory common.Address) []byte {
	return append(append([]byte{}, indexRoot...), factory.Bytes()...)
}

func indexKey(factory common.Address, i uint64) []byte {
	return binary.BigEndian.AppendUint64(indexPrefix(factory), i)
}
