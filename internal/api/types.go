package api

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"Launchpad/internal/events"
)

// Amounts in requests are JSON strings, decimal or 0x-prefixed hex.
// Amounts in responses are JSON numbers.

// DeployTokenRequest is the body of POST /tokens.
type DeployTokenRequest struct {
	From     common.Address        `json:"from"`
	Name     string                `json:"name"`
	Symbol   string                `json:"symbol"`
	Decimals uint8                 `json:"decimals"`
	Supply   *math.HexOrDecimal256 `json:"supply"`
}

// TransferRequest is the body of POST /tokens/{token}/transfer.
type TransferRequest struct {
	From   common.Address        `json:"from"`
	To     common.Address        `json:"to"`
	Amount *math.HexOrDecimal256 `json:"amount"`
}

// ApproveRequest is the body of POST /tokens/{token}/approve.
type ApproveRequest struct {
	From    common.Address        `json:"from"`
	Spender common.Address        `json:"spender"`
	Amount  *math.HexOrDecimal256 `json:"amount"`
}

// CreateLaunchpadRequest is the body of POST /launchpads.
type CreateLaunchpadRequest struct {
	From        common.Address        `json:"from"`
	Token       common.Address        `json:"token"`
	Signer      common.Address        `json:"signer"`
	SellerPrice *math.HexOrDecimal256 `json:"sellerPrice"`
	Name        string                `json:"name,omitempty"`
	Version     string                `json:"version,omitempty"`
}

// ClaimRequest is the body of POST /launchpads/{lp}/claim.
type ClaimRequest struct {
	From          common.Address        `json:"from"`
	AllowedAmount *math.HexOrDecimal256 `json:"allowedAmount"`
	RoundID       uint64                `json:"roundId"`
	Deadline      uint64                `json:"deadline"`
	Signature     hexutil.Bytes         `json:"signature"`
}

// SignerRequest is the body of POST /launchpads/{lp}/signer.
type SignerRequest struct {
	From   common.Address `json:"from"`
	Signer common.Address `json:"signer"`
}

// OwnerRequest is the body of POST /launchpads/{lp}/owner.
type OwnerRequest struct {
	From     common.Address `json:"from"`
	NewOwner common.Address `json:"newOwner"`
}

// CallerRequest is the body of endpoints that only need the caller.
type CallerRequest struct {
	From common.Address `json:"from"`
}

// BuyRequest is the body of POST /launchpads/{lp}/buy.
type BuyRequest struct {
	From   common.Address        `json:"from"`
	Amount *math.HexOrDecimal256 `json:"amount"`
}

// VoucherRequest is the body of POST /vouchers. From must own the launchpad.
type VoucherRequest struct {
	From          common.Address        `json:"from"`
	Launchpad     common.Address        `json:"launchpad"`
	User          common.Address        `json:"user"`
	AllowedAmount *math.HexOrDecimal256 `json:"allowedAmount"`
	RoundID       uint64                `json:"roundId"`
	Deadline      uint64                `json:"deadline"`
}

func (r DeployTokenRequest) sender() common.Address     { return r.From }
func (r TransferRequest) sender() common.Address        { return r.From }
func (r ApproveRequest) sender() common.Address         { return r.From }
func (r CreateLaunchpadRequest) sender() common.Address { return r.From }
func (r ClaimRequest) sender() common.Address           { return r.From }
func (r SignerRequest) sender() common.Address          { return r.From }
func (r OwnerRequest) sender() common.Address           { return r.From }
func (r CallerRequest) sender() common.Address          { return r.From }
func (r BuyRequest) sender() common.Address             { return r.From }
func (r VoucherRequest) sender() common.Address         { return r.From }

// AdvanceTimeRequest is the body of POST /time/advance.
type AdvanceTimeRequest struct {
	Seconds uint64 `json:"seconds"`
}

// EventView is the JSON form of a committed event.
// Args holds decoded values: addresses as hex, integers as decimal strings.
type EventView struct {
	Seq      uint64            `json:"seq"`
	Time     uint64            `json:"time"`
	Contract common.Address    `json:"contract"`
	Name     string            `json:"name"`
	Topic    common.Hash       `json:"topic"`
	Data     hexutil.Bytes     `json:"data"`
	Args     map[string]string `json:"args,omitempty"`
}

// TxResponse is returned by every state-changing endpoint.
type TxResponse struct {
	Address *common.Address `json:"address,omitempty"` // Address is set for deployments
	Events  []EventView     `json:"events"`
}

// BalanceResponse is returned by balance and allowance queries.
type BalanceResponse struct {
	Balance *big.Int `json:"balance"`
}

// ClaimedResponse is returned by GET /launchpads/{lp}/claims/{user}/{round}.
type ClaimedResponse struct {
	Claimed bool `json:"claimed"`
}

// FinalizedResponse is returned by GET /launchpads/{lp}/finalized.
type FinalizedResponse struct {
	Finalized bool `json:"finalized"`
}

// TimeResponse is returned by POST /time/advance.
type TimeResponse struct {
	Time uint64 `json:"time"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// NewEventView converts an event, decoding its arguments when the definition is known.
func NewEventView(ev events.Event) EventView {
	view := EventView{
		Seq:      ev.Seq,
		Time:     ev.Time,
		Contract: ev.Contract,
		Name:     ev.Name,
		Topic:    ev.Topic,
		Data:     ev.Data,
	}

	values, err := events.Decode(ev)
	if err != nil {
		return view
	}

	view.Args = make(map[string]string, len(values))

	for name, v := range values {
		switch x := v.(type) {
		case common.Address:
			view.Args[name] = x.Hex()
		case *big.Int:
			view.Args[name] = x.String()
		default:
			view.Args[name] = fmt.Sprint(x)
		}
	}

	return view
}

// eventViews converts a batch of events.
func eventViews(evs []events.Event) []EventView {
	out := make([]EventView, len(evs))

	for i, ev := range evs {
		out[i] = NewEventView(ev)
	}

	return out
}
