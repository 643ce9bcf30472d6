package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type createSchemaRequest struct {
	SchemaURIHash  string `json:"schema_uri_hash"`
	Revocable      bool   `json:"revocable"`
	ExpiresAllowed bool   `json:"expires_allowed"`
	AttesterMode   uint32 `json:"attester_mode"`
}

type attestRequest struct {
	SchemaID   string  `json:"schema_id"`
	Subject    string  `json:"subject"`
	DataHash   string  `json:"data_hash"`
	Expiration *uint64 `json:"expiration,omitempty"`
}

func (s *Server) handleCreateSchema(w http.ResponseWriter, r *http.Request) {
	var req createSchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SchemaURIHash == "" {
		writeError(w, http.StatusBadRequest, "schema_uri_hash is required")
		return
	}

	schemaID, err := s.writer.CreateSchema(r.Context(), req.SchemaURIHash, req.Revocable, req.ExpiresAllowed, req.AttesterMode)
	if err != nil {
		s.log.Error("schema creation failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"schema_id": schemaID})
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	sc, err := s.queries.GetSchema(r.Context(), r.PathValue("id"))
	if err != nil {
		s.log.Error("schema lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if sc == nil {
		writeError(w, http.StatusNotFound, "schema not found")
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	var req attestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SchemaID == "" || req.Subject == "" || req.DataHash == "" {
		writeError(w, http.StatusBadRequest, "schema_id, subject and data_hash are required")
		return
	}

	attestationID, err := s.writer.Attest(r.Context(), req.SchemaID, req.Subject, req.DataHash, req.Expiration)
	if err != nil {
		s.log.Error("attestation failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"attestation_id": attestationID})
}

func (s *Server) handleListAttestations(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	schemaID := r.URL.Query().Get("schema_id")

	atts, err := s.queries.ListAttestations(r.Context(), subject, schemaID, 50)
	if err != nil {
		s.log.Error("attestation list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"attestations": atts})
}

func (s *Server) handleGetAttestation(w http.ResponseWriter, r *http.Request) {
	att, err := s.queries.GetAttestation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.log.Error("attestation lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if att == nil {
		writeError(w, http.StatusNotFound, "attestation not found")
		return
	}
	writeJSON(w, http.StatusOK, att)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	result, err := s.writer.Verify(r.Context(), r.PathValue("id"))
	if err != nil {
		s.log.Error("verify failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if result == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"exists": false})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := s.writer.Revoke(r.Context(), r.PathValue("id")); err != nil {
		s.log.Error("revocation failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	nonce, err := s.writer.Nonce(r.Context(), r.PathValue("attester"))
	if err != nil {
		s.log.Error("nonce read failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	// Decimal string: a u64 does not survive a JSON number round trip.
	writeJSON(w, http.StatusOK, map[string]string{"nonce": strconv.FormatUint(nonce, 10)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cursor, ok, err := s.checkpoint.Checkpoint(r.Context())
	if err != nil {
		s.log.Error("checkpoint read failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"error":  err.Error(),
			"uptime": time.Since(s.startTime).String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime":         time.Since(s.startTime).String(),
		"events_cursor":  cursor,
		"cursor_present": ok,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
