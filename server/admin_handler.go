package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"hlsrelay/core/credential"
	"hlsrelay/logger"
	"hlsrelay/model"
)

// ListCredentialsHandler GET /admin/credentials
func (h *APIHandler) ListCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"credentials": h.pool.Snapshot(),
	})
}

// SetCredentialHealthHandler PUT /admin/credentials/{id}/health
func (h *APIHandler) SetCredentialHealthHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req model.CredentialHealthRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadBody, err))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadBody, err))
		return
	}

	if !h.pool.SetHealthy(id, *req.Healthy) {
		writeJSON(w, http.StatusNotFound, errorBody(r, "Credential not found"))
		return
	}

	operator := ""
	if claims, ok := OperatorFromContext(r.Context()); ok {
		operator = claims.Subject
	}
	logger.Info("凭证健康状态已手动修改",
		logger.String("operator", operator),
		logger.String("credential", id),
		logger.Bool("healthy", *req.Healthy))

	writeJSON(w, http.StatusOK, credentialState(h.pool, id))
}

func credentialState(pool *credential.Pool, id string) credential.State {
	for _, s := range pool.Snapshot() {
		if s.ID == id {
			return s
		}
	}
	return credential.State{ID: id}
}
