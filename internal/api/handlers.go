package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"Launchpad/internal/events"
	"Launchpad/internal/factory"
	"Launchpad/internal/logger"
	"Launchpad/internal/service"
	"Launchpad/internal/snapshot"
)

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status()
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// handleSnapshot handles GET /snapshot requests.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshots not available")
		return
	}

	data, seq := s.snapshots.Latest()
	if data == nil {
		if err := s.snapshots.Snapshot(); err != nil {
			writeFailure(w, err)
			return
		}

		data, seq = s.snapshots.Latest()
	}

	header, err := snapshot.Inspect(data)
	if err != nil {
		writeFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Snapshot-Seq", strconv.FormatUint(seq, 10))
	w.Header().Set("X-Snapshot-Created-At", strconv.FormatUint(header.CreatedAt, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleEvents handles GET /events?since=&limit= requests.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, limit, err := eventWindow(r)
	if err != nil {
		writeFailure(w, err)
		return
	}

	evs, err := s.svc.Events(since, limit)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, eventViews(evs))
}

// handleEventStream handles GET /events/stream requests as server-sent
// events. Each committed event is one "data:" line holding an EventView.
// Events a slow client cannot absorb are dropped; GET /events fills gaps.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	// The stream outlives the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		writeFailure(w, err)
		return
	}

	evs, cancel := s.svc.Subscribe(streamBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": subscribed\n\n")
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}

			data, err := json.Marshal(NewEventView(ev))
			if err != nil {
				logger.Error("encode streamed event", "error", err)
				continue
			}

			if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.Seq, data); err != nil {
				return
			}

			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// handleAdvanceTime handles POST /time/advance requests.
func (s *Server) handleAdvanceTime(w http.ResponseWriter, r *http.Request) {
	var req AdvanceTimeRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, err)
		return
	}

	now, err := s.svc.AdvanceTime(req.Seconds)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TimeResponse{Time: now})
}

// handleDeployToken handles POST /tokens requests.
func (s *Server) handleDeployToken(w http.ResponseWriter, r *http.Request) {
	var req DeployTokenRequest
	from, err := s.decodeSigned(r, &req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	supply, err := requireAmount("supply", req.Supply)
	if err != nil {
		writeFailure(w, err)
		return
	}

	addr, evs, err := s.svc.DeployToken(from, service.TokenParams{
		Name:     req.Name,
		Symbol:   req.Symbol,
		Decimals: req.Decimals,
		Supply:   supply,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, TxResponse{Address: &addr, Events: eventViews(evs)})
}

// handleTokenInfo handles GET /tokens/{token} requests.
func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	tok, err := pathAddress(r, "token")
	if err != nil {
		writeFailure(w, err)
		return
	}

	info, err := s.svc.TokenInfo(tok)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// handleTokenBalance handles GET /tokens/{token}/balances/{holder} requests.
func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	tok, err := pathAddress(r, "token")
	if err != nil {
		writeFailure(w, err)
		return
	}

	holder, err := pathAddress(r, "holder")
	if err != nil {
		writeFailure(w, err)
		return
	}

	bal, err := s.svc.TokenBalance(tok, holder)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{Balance: bal})
}

// handleTokenAllowance handles GET /tokens/{token}/allowances/{owner}/{spender} requests.
func (s *Server) handleTokenAllowance(w http.ResponseWriter, r *http.Request) {
	tok, err := pathAddress(r, "token")
	if err != nil {
		writeFailure(w, err)
		return
	}

	owner, err := pathAddress(r, "owner")
	if err != nil {
		writeFailure(w, err)
		return
	}

	spender, err := pathAddress(r, "spender")
	if err != nil {
		writeFailure(w, err)
		return
	}

	allowance, err := s.svc.TokenAllowance(tok, owner, spender)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{Balance: allowance})
}

// handleTransfer handles POST /tokens/{token}/transfer requests.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	tok, err := pathAddress(r, "token")
	if err != nil {
		writeFailure(w, err)
		return
	}

	var req TransferRequest
	from, err := s.decodeSigned(r, &req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	amount, err := requireAmount("amount", req.Amount)
	if err != nil {
		writeFailure(w, err)
		return
	}

	evs, err := s.svc.TransferToken(from, tok, req.To, amount)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TxResponse{Events: eventViews(evs)})
}

// handleApprove handles POST /tokens/{token}/approve requests.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	tok, err := pathAddress(r, "token")
	if err != nil {
		writeFailure(w, err)
		return
	}

	var req ApproveRequest
	from, err := s.decodeSigned(r, &req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	amount, err := requireAmount("amount", req.Amount)
	if err != nil {
		writeFailure(w, err)
		return
	}

	evs, err := s.svc.ApproveToken(from, tok, req.Spender, amount)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TxResponse{Events: eventViews(evs)})
}

// handleCreateLaunchpad handles POST /launchpads requests.
func (s *Server) handleCreateLaunchpad(w http.ResponseWriter, r *http.Request) {
	var req CreateLaunchpadRequest
	from, err := s.decodeSigned(r, &req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	price, err := requireAmount("sellerPrice", req.SellerPrice)
	if err != nil {
		writeFailure(w, err)
		return
	}

	addr, evs, err := s.svc.CreateLaunchpad(from, factory.Request{
		Token:       req.Token,
		Signer:      req.Signer,
		SellerPrice: price,
		Name:        req.Name,
		Version:     req.Version,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, TxResponse{Address: &addr, Events: eventViews(evs)})
}

// handleListLaunchpads handles GET /launchpads requests.
func (s *Server) handleListLaunchpads(w http.ResponseWriter, r *http.Request) {
	views, err := s.svc.Launchpads()
	if err != nil {
		writeFailure(w, err)
		return
	}

	if views == nil {
		views = []service.LaunchpadView{}
	}

	writeJSON(w, http.StatusOK, views)
}

// handleLaunchpad handles GET /launchpads/{lp} requests.
func (s *Server) handleLaunchpad(w http.ResponseWriter, r *http.Request) {
	lp, err := pathAddress(r, "lp")
	if err != nil {
		writeFailure(w, err)
		return
	}

	view, err := s.svc.Launchpad(lp)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleClaim handles POST /launchpads/{lp}/claim requests.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	lp, err := pathAddress(r, "lp")
	if err != nil {
		writeFailure(w, err)
		return
	}

	var req ClaimRequest
	from, err := s.decodeSigned(r, &req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	amount, err := requireAmount("allowedAmount", req.AllowedAmount)
	if err != nil {
		writeFailure(w, err)
		return
	}

	evs, err := s.svc.Claim(from, lp, service.ClaimRequest{
		AllowedAmount: amount,
		RoundID:       req.RoundID,
		Deadline:      req.Deadline,
		Signature:     req.Signature,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TxResponse{Events: eventViews(evs)})
}

// handleBuy handles POST /launchpads/{lp}/buy requests.
func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	lp, err := pathAddress(r, "lp")
	if err != nil {
		writeFailure(w, err)
		return
	}

	var req BuyRequest
	from, err := s.decodeSigned(r, &req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	amount, err := requireAmount("amount", req.Amount)
	if err != nil {
		writeFailure(w, err)
		return
	}

	evs, err := s.svc.Buy(from, lp, amount)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TxResponse{Events: eventViews(evs)})
}

// handleUpdateSigner handles POST /launchpads/{lp}/signer requests.
func (s *Server) handleUpdateSigner(w http.ResponseWriter, r *http.Request) {
	lp, err := pathAddress(r, "lp")
	if err != nil {
		writeFailure(w, err)
		return
	}

	var req SignerRequest
	from, err := s.decodeSigned(r, &req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	evs, err := s.svc.UpdateSigner(from, lp, req.Signer)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TxResponse{Events: eventViews(evs)})
}

// handleWithdraw handles POST /launchpads/{lp}/withdraw requests.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleCallerOp(w, r, s.svc.WithdrawInvestments)
}

// handleInvalidate handles POST /launchpads/{lp}/invalidate requests.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	s.handleCallerOp(w, r, s.svc.InvalidateLaunchpad)
}

// handleCallerOp runs a launchpad operation that takes only the caller.
func (s *Server) handleCallerOp(w http.ResponseWriter, r *http.Request, op func(from, lp common.Address) ([]events.Event, error)) {
	lp, err := pathAddress(r, "lp")
	if err != nil {
		writeFailure(w, err)
		return
	}

	var req CallerRequest
	from, err := s.decodeSigned(r, &req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	evs, err := op(from, lp)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TxResponse{Events: eventViews(evs)})
}

// handleTransferOwnership handles POST /launchpads/{lp}/owner requests.
func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	lp, err := pathAddress(r, "lp")
	if err != nil {
		writeFailure(w, err)
		return
	}

	var req OwnerRequest
	from, err := s.decodeSigned(r, &req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	evs, err := s.svc.TransferLaunchpadOwnership(from, lp, req.NewOwner)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TxResponse{Events: eventViews(evs)})
}

// handleHasClaimed handles GET /launchpads/{lp}/claims/{user}/{round} requests.
func (s *Server) handleHasClaimed(w http.ResponseWriter, r *http.Request) {
	lp, err := pathAddress(r, "lp")
	if err != nil {
		writeFailure(w, err)
		return
	}

	user, err := pathAddress(r, "user")
	if err != nil {
		writeFailure(w, err)
		return
	}

	round, err := pathUint(r, "round")
	if err != nil {
		writeFailure(w, err)
		return
	}

	claimed, err := s.svc.HasClaimed(lp, user, round)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ClaimedResponse{Claimed: claimed})
}

// handleFinalized handles GET /launchpads/{lp}/finalized requests.
func (s *Server) handleFinalized(w http.ResponseWriter, r *http.Request) {
	lp, err := pathAddress(r, "lp")
	if err != nil {
		writeFailure(w, err)
		return
	}

	finalized, err := s.svc.IsFinalized(lp)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FinalizedResponse{Finalized: finalized})
}

// handleIssueVoucher handles POST /vouchers requests.
func (s *Server) handleIssueVoucher(w http.ResponseWriter, r *http.Request) {
	var req VoucherRequest
	from, err := s.decodeSigned(r, &req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	amount, err := requireAmount("allowedAmount", req.AllowedAmount)
	if err != nil {
		writeFailure(w, err)
		return
	}

	v, err := s.svc.IssueVoucher(from, req.Launchpad, req.User, amount, req.RoundID, req.Deadline)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}
