package rpc

import (
	"net/http"
)

type eventsListParams struct {
	After uint64 `json:"after,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) handleEventsList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params eventsListParams
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	records, err := s.pool.Events(params.After, params.Limit)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	results := make([]EventResult, 0, len(records))
	for _, rec := range records {
		results = append(results, eventResult(rec))
	}
	writeResult(w, req.ID, results)
}
