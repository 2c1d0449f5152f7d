package factory

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Launchpad/internal/host"
	"Launchpad/internal/host/hosttest"
	"Launchpad/internal/ledger"
	"Launchpad/internal/token"
)

var (
	admin       = common.HexToAddress("0xad")
	creator     = common.HexToAddress("0xc1")
	stranger    = common.HexToAddress("0x57")
	signer      = common.HexToAddress("0x5a")
	factoryAddr = common.HexToAddress("0xfa")
	saleToken   = common.HexToAddress("0x70")
	feeToken    = common.HexToAddress("0x71")
)

func tokens(addr common.Address) ledger.TokenLedger {
	return token.At(addr)
}

// newTestFactory deploys two tokens held by creator and a factory charging fee.
func newTestFactory(t *testing.T, fee int64) (*host.Host, *Factory) {
	t.Helper()

	h, _ := hosttest.New(t)
	var f *Factory

	_, err := h.Execute("setup", admin, func(ctx *host.Context) error {
		for _, addr := range []common.Address{saleToken, feeToken} {
			if _, err := token.Deploy(ctx, addr, token.Params{
				Name: "T", Symbol: "T", Holder: creator, Supply: big.NewInt(1_000_000),
			}); err != nil {
				return err
			}
		}

		var err error
		f, err = Deploy(ctx, factoryAddr, tokens, Params{
			Owner:        admin,
			PaymentToken: feeToken,
			CreationFee:  big.NewInt(fee),
		})
		return err
	})
	require.NoError(t, err)

	return h, f
}

func validRequest() Request {
	return Request{
		Token:       saleToken,
		Signer:      signer,
		SellerPrice: big.NewInt(5),
		Name:        "Launchpad",
		Version:     "1",
	}
}

func create(h *host.Host, f *Factory, req Request) (common.Address, error) {
	var addr common.Address

	_, err := h.Execute("createLaunchpad", creator, func(ctx *host.Context) error {
		var err error
		addr, err = f.CreateLaunchpad(ctx, req)
		return err
	})

	return addr, err
}

func TestCreateLaunchpad(t *testing.T) {
	h, f := newTestFactory(t, 0)

	addr, err := create(h, f, validRequest())
	require.NoError(t, err)
	assert.Equal(t, crypto.CreateAddress(factoryAddr, 0), addr)

	second, err := create(h, f, validRequest())
	require.NoError(t, err)
	assert.Equal(t, crypto.CreateAddress(factoryAddr, 1), second)

	require.NoError(t, h.View(func(ctx *host.Context) error {
		info, err := ledger.At(addr, tokens).Info(ctx)
		require.NoError(t, err)
		assert.Equal(t, creator, info.Owner)
		assert.Equal(t, signer, info.Signer)
		assert.Equal(t, saleToken, info.Token)

		count, err := f.LaunchpadCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), count)

		all, err := f.AllLaunchpads(ctx)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{addr, second}, all)

		valid, err := f.IsLaunchpadValid(ctx, addr)
		require.NoError(t, err)
		assert.True(t, valid)

		entry, err := f.Launchpad(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, creator, entry.Creator)
		assert.Equal(t, int64(5), entry.SellerPrice.Int64())
		return nil
	}))
}

func TestCreateLaunchpadEmitsEvent(t *testing.T) {
	h, f := newTestFactory(t, 0)

	addr, err := create(h, f, validRequest())
	require.NoError(t, err)

	evs, err := h.Events().Since(0, 0)
	require.NoError(t, err)

	ev := evs[len(evs)-1]
	require.Equal(t, "LaunchpadCreated", ev.Name)

	values, err := LaunchpadCreatedEvent.Decode(ev)
	require.NoError(t, err)
	assert.Equal(t, addr, values["launchpad"])
	assert.Equal(t, saleToken, values["token"])
	assert.Equal(t, signer, values["signer"])
}

func TestCreateLaunchpadValidation(t *testing.T) {
	h, f := newTestFactory(t, 0)

	cases := []struct {
		name  string
		alter func(r *Request)
		want  error
	}{
		{"zero token", func(r *Request) { r.Token = common.Address{} }, ErrInvalidTokenAddress},
		{"unknown token", func(r *Request) { r.Token = common.HexToAddress("0x99") }, ErrInvalidTokenAddress},
		{"zero signer", func(r *Request) { r.Signer = common.Address{} }, ErrInvalidSignerAddress},
		{"zero price", func(r *Request) { r.SellerPrice = big.NewInt(0) }, ErrInvalidSellerPrice},
		{"missing price", func(r *Request) { r.SellerPrice = nil }, ErrInvalidSellerPrice},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.alter(&req)

			_, err := create(h, f, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	require.NoError(t, h.View(func(ctx *host.Context) error {
		count, err := f.LaunchpadCount(ctx)
		assert.Equal(t, uint64(0), count)
		return err
	}))
}

func TestCreationFee(t *testing.T) {
	h, f := newTestFactory(t, 100)

	_, err := create(h, f, validRequest())
	assert.ErrorIs(t, err, token.ErrInsufficientAllowance)

	_, err = h.Execute("approve", creator, func(ctx *host.Context) error {
		return token.At(feeToken).Approve(ctx, factoryAddr, big.NewInt(100))
	})
	require.NoError(t, err)

	_, err = create(h, f, validRequest())
	require.NoError(t, err)

	require.NoError(t, h.View(func(ctx *host.Context) error {
		bal, err := token.At(feeToken).BalanceOf(ctx, admin)
		require.NoError(t, err)
		assert.Equal(t, int64(100), bal.Int64())
		return nil
	}))
}

func TestInvalidateLaunchpad(t *testing.T) {
	h, f := newTestFactory(t, 0)

	addr, err := create(h, f, validRequest())
	require.NoError(t, err)

	_, err = h.Execute("invalidate", stranger, func(ctx *host.Context) error {
		return f.InvalidateLaunchpad(ctx, addr)
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = h.Execute("invalidate", admin, func(ctx *host.Context) error {
		return f.InvalidateLaunchpad(ctx, common.HexToAddress("0x1234"))
	})
	assert.ErrorIs(t, err, ErrLaunchpadNotFound)

	evs, err := h.Execute("invalidate", admin, func(ctx *host.Context) error {
		return f.InvalidateLaunchpad(ctx, addr)
	})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "LaunchpadInvalidated", evs[0].Name)

	require.NoError(t, h.View(func(ctx *host.Context) error {
		valid, err := f.IsLaunchpadValid(ctx, addr)
		require.NoError(t, err)
		assert.False(t, valid)

		// The ledger itself keeps working; the flag is registry metadata.
		finalized, err := ledger.At(addr, tokens).IsFinalized(ctx)
		require.NoError(t, err)
		assert.False(t, finalized)
		return nil
	}))
}

func TestFactoryTransferOwnership(t *testing.T) {
	h, f := newTestFactory(t, 0)

	_, err := h.Execute("transferOwnership", stranger, func(ctx *host.Context) error {
		return f.TransferOwnership(ctx, stranger)
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = h.Execute("transferOwnership", admin, func(ctx *host.Context) error {
		return f.TransferOwnership(ctx, stranger)
	})
	require.NoError(t, err)

	require.NoError(t, h.View(func(ctx *host.Context) error {
		info, err := f.Info(ctx)
		require.NoError(t, err)
		assert.Equal(t, stranger, info.Owner)
		return nil
	}))
}

func TestDeployRejectsFeeWithoutToken(t *testing.T) {
	h, _ := hosttest.New(t)

	_, err := h.Execute("deployFactory", admin, func(ctx *host.Context) error {
		_, err := Deploy(ctx, factoryAddr, tokens, Params{Owner: admin, CreationFee: big.NewInt(1)})
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidPaymentToken)
}
