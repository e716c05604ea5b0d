package rpc

import (
	"net/http"

	"capstack/observability"
)

type depositParams struct {
	Tranche string `json:"tranche"`
	Lender  string `json:"lender"`
	Amount  string `json:"amount"`
}

type amountParams struct {
	Amount string `json:"amount"`
}

type reserveWithdrawParams struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handlePoolGetState(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !requireNoParams(w, req) {
		return
	}
	snap, err := s.pool.Snapshot()
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolStateResult(snap))
}

func (s *Server) handlePoolDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params depositParams
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
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	receipt, err := s.pool.Deposit(t, lender, amount)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, DepositResult{
		Tranche: receipt.Tranche.String(),
		Lender:  receipt.Lender.String(),
		Amount:  formatAmount(receipt.Amount),
		Shares:  formatAmount(receipt.Shares),
	})
}

func (s *Server) handleDistributeProfit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params amountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	gross, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	outcome, err := s.pool.DistributeProfit(gross)
	observability.Ledger().ObserveDistribution("profit", err)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, profitResult(gross, outcome))
}

func (s *Server) handleDistributeLoss(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params amountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loss, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	outcome, err := s.pool.DistributeLoss(loss)
	observability.Ledger().ObserveDistribution("loss", err)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lossResult(outcome))
}

func (s *Server) handleDistributeLossRecovery(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params amountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	recovery, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	outcome, err := s.pool.DistributeLossRecovery(recovery)
	observability.Ledger().ObserveDistribution("recovery", err)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, recoveryResult(outcome))
}

func (s *Server) handleFundReserve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params amountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.pool.FundReserve(amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	balance, err := s.pool.AccountBalance(s.pool.ReserveAccount())
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ReserveResult{
		Account: s.pool.ReserveAccount().String(),
		Balance: formatAmount(balance),
	})
}

func (s *Server) handleWithdrawReserve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params reserveWithdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	to, err := parseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.pool.WithdrawReserve(to, amount); err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	balance, err := s.pool.AccountBalance(s.pool.ReserveAccount())
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ReserveResult{
		Account: s.pool.ReserveAccount().String(),
		Balance: formatAmount(balance),
	})
}
