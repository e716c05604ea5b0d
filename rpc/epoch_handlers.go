package rpc

import (
	"errors"
	"net/http"
	"time"

	"capstack/core"
	"capstack/observability"
)

type epochInfoParams struct {
	Tranche string `json:"tranche"`
	Epoch   uint64 `json:"epoch"`
}

type trancheParams struct {
	Tranche string `json:"tranche"`
}

func (s *Server) handleEpochClose(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !requireNoParams(w, req) {
		return
	}
	started := time.Now()
	report, err := s.pool.CloseEpoch()
	outcome := "closed"
	switch {
	case errors.Is(err, core.ErrNoLiquidity):
		outcome = "deferred"
	case err != nil:
		outcome = "failed"
	}
	observability.Ledger().ObserveEpochClose(time.Since(started), outcome)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, epochCloseResult(report))
}

func (s *Server) handleEpochCurrent(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !requireNoParams(w, req) {
		return
	}
	current, err := s.pool.CurrentEpoch()
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"epoch": current})
}

func (s *Server) handleEpochPending(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params trancheParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	t, err := parseTranche(params.Tranche)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	infos, err := s.pool.PendingEpochs(t)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	results := make([]EpochInfoResult, 0, len(infos))
	for _, info := range infos {
		results = append(results, epochInfoResult(t, info))
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleEpochGetInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params epochInfoParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	t, err := parseTranche(params.Tranche)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	info, err := s.pool.EpochInfo(t, params.Epoch)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, epochInfoResult(t, info))
}
