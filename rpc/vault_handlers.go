package rpc

import (
	"net/http"

	"capstack/observability"
)

type redemptionParams struct {
	Tranche string `json:"tranche"`
	Lender  string `json:"lender"`
	Shares  string `json:"shares"`
}

type lenderParams struct {
	Tranche string `json:"tranche"`
	Lender  string `json:"lender"`
}

func (s *Server) handleRequestRedemption(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params redemptionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	t, err := parseTranche(params.Tranche)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	lender, err := parseAddress(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	shares, err := parseAmount(params.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	info, err := s.pool.AddRedemptionRequest(t, lender, shares)
	observability.Ledger().ObserveRedemption("request", err)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, RedemptionRequestResult{
		Tranche: t.String(),
		Lender:  lender.String(),
		Epoch:   epochInfoResult(t, info),
	})
}

func (s *Server) handleCancelRedemption(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params redemptionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	t, err := parseTranche(params.Tranche)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	lender, err := parseAddress(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	shares, err := parseAmount(params.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	err = s.pool.CancelRedemptionRequest(t, lender, shares)
	observability.Ledger().ObserveRedemption("cancel", err)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	status, err := s.pool.RedemptionStatus(t, lender)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, redemptionStatusResult(t, lender, status))
}

func (s *Server) handleWithdrawable(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params lenderParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	t, err := parseTranche(params.Tranche)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	lender, err := parseAddress(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := s.pool.Withdrawable(t, lender)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, WithdrawableResult{
		Tranche: t.String(),
		Lender:  lender.String(),
		Amount:  formatAmount(amount),
	})
}

func (s *Server) handleRedemptionStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params lenderParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	t, err := parseTranche(params.Tranche)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	lender, err := parseAddress(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	status, err := s.pool.RedemptionStatus(t, lender)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, redemptionStatusResult(t, lender, status))
}

func (s *Server) handleDisburse(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params lenderParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	t, err := parseTranche(params.Tranche)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	lender, err := parseAddress(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	disb, err := s.pool.Disburse(t, lender)
	observability.Ledger().ObserveRedemption("disburse", err)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, DisburseResult{
		Tranche: t.String(),
		Lender:  lender.String(),
		Amount:  formatAmount(disb.Amount),
		Shares:  formatAmount(disb.Shares),
	})
}
