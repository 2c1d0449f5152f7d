package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	flatbuffers "github.com/google/flatbuffers/go"

	"Launchpad/internal/events"
	"Launchpad/internal/host"
	"Launchpad/internal/types"
)

var (
	ErrTokenNotFound         = errors.New("token not found")
	ErrTokenExists           = errors.New("token already deployed")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidReceiver       = errors.New("invalid receiver")
	ErrInvalidAmount         = errors.New("invalid amount")
)

var (
	// TransferEvent is emitted on every balance movement, including the initial mint.
	TransferEvent = events.Define("Transfer",
		events.Arg{Name: "from", Type: "address"},
		events.Arg{Name: "to", Type: "address"},
		events.Arg{Name: "value", Type: "uint256"},
	)

	// ApprovalEvent is emitted when an allowance is set.
	ApprovalEvent = events.Define("Approval",
		events.Arg{Name: "owner", Type: "address"},
		events.Arg{Name: "spender", Type: "address"},
		events.Arg{Name: "value", Type: "uint256"},
	)
)

// Params configures a new token.
type Params struct {
	Name     string
	Symbol   string
	Decimals uint8
	Holder   common.Address // Holder receives the entire supply
	Supply   *big.Int
}

// Info is the static description of a token.
type Info struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply *big.Int       `json:"totalSupply"`
}

// Token is a fungible balance ledger living at a fixed address.
// Balances only move; the supply is minted once at deploy.
type Token struct {
	address common.Address
}

// At returns a handle for the token at addr. It does not check existence.
func At(addr common.Address) *Token {
	return &Token{address: addr}
}

// Deploy creates a token at addr and mints the supply to the holder.
func Deploy(ctx *host.Context, addr common.Address, p Params) (*Token, error) {
	exists, err := ctx.Has(recordKey(addr))
	if err != nil {
		return nil, fmt.Errorf("check token:\n%w", err)
	}

	if exists {
		return nil, ErrTokenExists
	}

	if p.Holder == (common.Address{}) {
		return nil, ErrInvalidReceiver
	}

	supply := new(big.Int)
	if p.Supply != nil {
		supply.Set(p.Supply)
	}

	if supply.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	if err := ctx.Set(recordKey(addr), encodeRecord(p.Name, p.Symbol, p.Decimals, supply)); err != nil {
		return nil, fmt.Errorf("write token:\n%w", err)
	}

	t := At(addr)

	if err := t.setBalance(ctx, p.Holder, supply); err != nil {
		return nil, err
	}

	if err := t.emit(ctx, TransferEvent, common.Address{}, p.Holder, supply); err != nil {
		return nil, err
	}

	return t, nil
}

// Address returns the token address.
func (t *Token) Address() common.Address {
	return t.address
}

// Info returns the token's metadata.
func (t *Token) Info(ctx *host.Context) (Info, error) {
	rec, err := t.record(ctx)
	if err != nil {
		return Info{}, err
	}

	return Info{
		Address:     t.address,
		Name:        string(rec.Name()),
		Symbol:      string(rec.Symbol()),
		Decimals:    rec.Decimals(),
		TotalSupply: new(big.Int).SetBytes(rec.TotalSupplyBytes()),
	}, nil
}

// BalanceOf returns holder's balance.
func (t *Token) BalanceOf(ctx *host.Context, holder common.Address) (*big.Int, error) {
	if _, err := t.record(ctx); err != nil {
		return nil, err
	}

	return t.balance(ctx, holder)
}

// Allowance returns how much spender may move on behalf of owner.
func (t *Token) Allowance(ctx *host.Context, owner, spender common.Address) (*big.Int, error) {
	if _, err := t.record(ctx); err != nil {
		return nil, err
	}

	return readAmount(ctx, allowanceKey(t.address, owner, spender))
}

// Transfer moves amount from the caller to to.
func (t *Token) Transfer(ctx *host.Context, to common.Address, amount *big.Int) error {
	if _, err := t.record(ctx); err != nil {
		return err
	}

	return t.move(ctx, ctx.Sender(), to, amount)
}

// Approve sets the caller's allowance for spender to amount.
func (t *Token) Approve(ctx *host.Context, spender common.Address, amount *big.Int) error {
	if _, err := t.record(ctx); err != nil {
		return err
	}

	if spender == (common.Address{}) {
		return ErrInvalidReceiver
	}

	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	if err := ctx.Set(allowanceKey(t.address, ctx.Sender(), spender), amount.Bytes()); err != nil {
		return fmt.Errorf("write allowance:\n%w", err)
	}

	return t.emit(ctx, ApprovalEvent, ctx.Sender(), spender, amount)
}

// TransferFrom moves amount from from to to using the caller's allowance.
func (t *Token) TransferFrom(ctx *host.Context, from, to common.Address, amount *big.Int) error {
	if _, err := t.record(ctx); err != nil {
		return err
	}

	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	key := allowanceKey(t.address, from, ctx.Sender())

	allowed, err := readAmount(ctx, key)
	if err != nil {
		return err
	}

	if allowed.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}

	if err := ctx.Set(key, new(big.Int).Sub(allowed, amount).Bytes()); err != nil {
		return fmt.Errorf("write allowance:\n%w", err)
	}

	return t.move(ctx, from, to, amount)
}

// move debits from and credits to, then emits Transfer.
func (t *Token) move(ctx *host.Context, from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrInvalidReceiver
	}

	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	fromBalance, err := t.balance(ctx, from)
	if err != nil {
		return err
	}

	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	if err := t.setBalance(ctx, from, fromBalance.Sub(fromBalance, amount)); err != nil {
		return err
	}

	toBalance, err := t.balance(ctx, to)
	if err != nil {
		return err
	}

	if err := t.setBalance(ctx, to, toBalance.Add(toBalance, amount)); err != nil {
		return err
	}

	return t.emit(ctx, TransferEvent, from, to, amount)
}

// record loads the token record, failing with ErrTokenNotFound.
func (t *Token) record(ctx *host.Context) (*types.TokenRecord, error) {
	data, err := ctx.Get(recordKey(t.address))
	if err != nil {
		return nil, fmt.Errorf("read token:\n%w", err)
	}

	if data == nil {
		return nil, ErrTokenNotFound
	}

	return types.GetRootAsTokenRecord(data, 0), nil
}

// balance reads holder's balance (zero when unset).
func (t *Token) balance(ctx *host.Context, holder common.Address) (*big.Int, error) {
	return readAmount(ctx, balanceKey(t.address, holder))
}

// setBalance writes holder's balance, deleting the key at zero.
func (t *Token) setBalance(ctx *host.Context, holder common.Address, amount *big.Int) error {
	key := balanceKey(t.address, holder)

	var err error
	if amount.Sign() == 0 {
		err = ctx.Delete(key)
	} else {
		err = ctx.Set(key, amount.Bytes())
	}

	if err != nil {
		return fmt.Errorf("write balance:\n%w", err)
	}

	return nil
}

// emit encodes and buffers an event from this token.
func (t *Token) emit(ctx *host.Context, def events.Definition, values ...any) error {
	ev, err := def.New(t.address, values...)
	if err != nil {
		return err
	}

	return ctx.Emit(ev)
}

// readAmount reads a big-endian unsigned integer, zero when absent.
func readAmount(ctx *host.Context, key []byte) (*big.Int, error) {
	data, err := ctx.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read amount:\n%w", err)
	}

	return new(big.Int).SetBytes(data), nil
}

// encodeRecord serializes token metadata as a TokenRecord.
func encodeRecord(name, symbol string, decimals uint8, supply *big.Int) []byte {
	builder := flatbuffers.NewBuilder(128)

	nameOff := builder.CreateString(name)
	symbolOff := builder.CreateString(symbol)
	supplyVec := builder.CreateByteVector(supply.Bytes())

	types.TokenRecordStart(builder)
	types.TokenRecordAddName(builder, nameOff)
	types.TokenRecordAddSymbol(builder, symbolOff)
	types.TokenRecordAddDecimals(builder, decimals)
	types.TokenRecordAddTotalSupply(builder, supplyVec)
	builder.Finish(types.TokenRecordEnd(builder))

	return builder.FinishedBytes()
}
