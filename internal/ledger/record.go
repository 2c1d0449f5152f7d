package ledger

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	flatbuffers "github.com/google/flatbuffers/go"

	"Launchpad/internal/types"
)

var (
	recordPrefix = []byte("l:") // l: + launchpad
	claimPrefix  = []byte("c:") // c: + launchpad + user + round
)

// claimedMarker is the value stored for a consumed (user, round) slot.
var claimedMarker = []byte{0x01}

// record is the decoded persistent state of one ledger.
type record struct {
	token      common.Address
	signer     common.Address
	owner      common.Address
	deployedAt uint64
	finalized  bool
	name       string
	version    string

	paymentToken common.Address // paymentToken is the purchase currency, zero disables Buy
	price        *big.Int       // price is payment units per sale token unit
	totalSold    *big.Int       // totalSold counts sale tokens bought
	totalRaised  *big.Int       // totalRaised counts payment tokens received
}

// encode serializes the record as a LedgerRecord.
func (r *record) encode() []byte {
	builder := flatbuffers.NewBuilder(256)

	tokenVec := builder.CreateByteVector(r.token.Bytes())
	signerVec := builder.CreateByteVector(r.signer.Bytes())
	ownerVec := builder.CreateByteVector(r.owner.Bytes())
	nameOff := builder.CreateString(r.name)
	versionOff := builder.CreateString(r.version)
	paymentVec := builder.CreateByteVector(r.paymentToken.Bytes())
	priceVec := builder.CreateByteVector(amountBytes(r.price))
	soldVec := builder.CreateByteVector(amountBytes(r.totalSold))
	raisedVec := builder.CreateByteVector(amountBytes(r.totalRaised))

	types.LedgerRecordStart(builder)
	types.LedgerRecordAddToken(builder, tokenVec)
	types.LedgerRecordAddSigner(builder, signerVec)
	types.LedgerRecordAddOwner(builder, ownerVec)
	types.LedgerRecordAddDeployedAt(builder, r.deployedAt)
	types.LedgerRecordAddFinalized(builder, r.finalized)
	types.LedgerRecordAddName(builder, nameOff)
	types.LedgerRecordAddVersion(builder, versionOff)
	types.LedgerRecordAddPaymentToken(builder, paymentVec)
	types.LedgerRecordAddPrice(builder, priceVec)
	types.LedgerRecordAddTotalSold(builder, soldVec)
	types.LedgerRecordAddTotalRaised(builder, raisedVec)
	builder.Finish(types.LedgerRecordEnd(builder))

	return builder.FinishedBytes()
}

// decodeRecord parses a LedgerRecord.
func decodeRecord(data []byte) *record {
	rec := types.GetRootAsLedgerRecord(data, 0)

	return &record{
		token:      common.BytesToAddress(rec.TokenBytes()),
		signer:     common.BytesToAddress(rec.SignerBytes()),
		owner:      common.BytesToAddress(rec.OwnerBytes()),
		deployedAt: rec.DeployedAt(),
		finalized:  rec.Finalized(),
		name:       string(rec.Name()),
		version:    string(rec.Version()),

		paymentToken: common.BytesToAddress(rec.PaymentTokenBytes()),
		price:        new(big.Int).SetBytes(rec.PriceBytes()),
		totalSold:    new(big.Int).SetBytes(rec.TotalSoldBytes()),
		totalRaised:  new(big.Int).SetBytes(rec.TotalRaisedBytes()),
	}
}

// amountBytes encodes an optional amount as big-endian bytes.
func amountBytes(v *big.Int) []byte {
	if v == nil {
		return nil
	}

	return v.Bytes()
}

// recordKey builds "l:" + launchpad.
func recordKey(launchpad common.Address) []byte {
	key := make([]byte, 0, len(recordPrefix)+common.AddressLength)
	key = append(key, recordPrefix...)

	return append(key, launchpad.Bytes()...)
}

// claimKey builds "c:" + launchpad + user + big-endian round.
func claimKey(launchpad, user common.Address, round uint64) []byte {
	key := make([]byte, 0, len(claimPrefix)+2*common.AddressLength+8)
	key = append(key, claimPrefix...)
	key = append(key, launchpad.Bytes()...)
	key = append(key, user.Bytes()...)

	return binary.BigEndian.AppendUint64(key, round)
}
