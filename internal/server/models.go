package server

import "net/http"

// modelData is one entry in the OpenAI-compatible /v1/models listing.
type modelData struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ListModels handles GET /v1/models. It advertises the two composed model
// identifiers this gateway exposes: the concrete default composition and
// the "deepclaude" alias accepted by endpoint resolution.
func (s *Server) ListModels(w http.ResponseWriter, r *http.Request) {
	composed := s.reasoningDefault + "_" + s.answerDefault

	httpResponseJSON(w, map[string]any{
		"object": "list",
		"data": []modelData{
			{ID: composed, Object: "model", OwnedBy: serviceName},
			{ID: "deepclaude", Object: "model", OwnedBy: serviceName},
		},
	}, http.StatusOK)
}
