package server

import (
	"encoding/json"
	"net/http"

	"github.com/rakunlabs/deepclaude-at/internal/envstore"
)

// redactedValue replaces every credential value in an env snapshot before
// it leaves the process, per the operator-inspection endpoint's contract.
const redactedValue = "********"

// GetEnv handles GET /api/v1/env: the current .env-derived snapshot with
// every value redacted.
func (s *Server) GetEnv(w http.ResponseWriter, r *http.Request) {
	httpResponseJSON(w, redact(s.envStore.Get()), http.StatusOK)
}

// UpdateEnv handles PUT /api/v1/env: merges the request body into the .env
// store under its single writer mutex and returns the redacted result.
func (s *Server) UpdateEnv(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		httpResponseJSON(w, gatewayError("invalid request body: "+err.Error()), http.StatusBadRequest)
		return
	}

	snap, err := s.envStore.Merge(updates)
	if err != nil {
		httpResponseJSON(w, gatewayError("failed to update environment: "+err.Error()), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, redact(snap), http.StatusOK)
}

func redact(snap envstore.Snapshot) map[string]string {
	out := make(map[string]string, len(snap))
	for k := range snap {
		out[k] = redactedValue
	}
	return out
}
