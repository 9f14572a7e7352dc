// Package handlers exposes the gatekeeper pipeline over HTTP.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/gdnshnk/pohw-registry-node-sub003/internal/effort"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/pipeline"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/ratelimit"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/reputation"
)

// HandleSubmit gates one authorship-proof submission. Rejections come back
// as 429 with the structured rate-limit result; they are verdicts, not
// errors.
func HandleSubmit(gk *pipeline.Gatekeeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Identity    string `json:"identity"`
			ContentHash string `json:"content_hash"`
			Timestamp   string `json:"timestamp"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Identity == "" || req.ContentHash == "" {
			http.Error(w, `{"error":"identity and content_hash are required"}`, http.StatusBadRequest)
			return
		}

		var ts time.Time
		if req.Timestamp != "" {
			parsed, err := time.Parse(time.RFC3339, req.Timestamp)
			if err != nil {
				http.Error(w, `{"error":"timestamp must be ISO-8601"}`, http.StatusBadRequest)
				return
			}
			ts = parsed
		}

		outcome := gk.Submit(r.Context(), pipeline.SubmissionRequest{
			Identity:    req.Identity,
			ContentHash: req.ContentHash,
			Timestamp:   ts,
		})

		w.Header().Set("Content-Type", "application/json")
		if !outcome.RateLimit.Allowed {
			if outcome.RateLimit.Reason == ratelimit.ReasonFloorViolation {
				w.Header().Set("Retry-After", "6")
			}
			w.WriteHeader(http.StatusTooManyRequests)
		}
		json.NewEncoder(w).Encode(outcome)
	}
}

// HandleReputation returns the identity's current (decayed) reputation.
func HandleReputation(gk *pipeline.Gatekeeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := mux.Vars(r)["id"]
		rec, provenance := gk.Reputation(r.Context(), identity)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			reputation.Record
			Provenance reputation.Provenance `json:"provenance"`
		}{rec, provenance})
	}
}

// HandleAnomalyLog returns the identity's anomaly audit trail, oldest
// first, along with whether any entry falls inside the trailing
// window_hours (default 24).
func HandleAnomalyLog(gk *pipeline.Gatekeeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := mux.Vars(r)["id"]
		window := parseWindowHours(r)

		resp := struct {
			Identity  string   `json:"identity"`
			Entries   []string `json:"entries"`
			HasRecent bool     `json:"has_recent"`
		}{
			Identity:  identity,
			Entries:   gk.Anomalies(r.Context(), identity),
			HasRecent: gk.HasRecentAnomalies(r.Context(), identity, window),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// HandleReportEvent applies a reputation event on behalf of downstream
// credential or attestation logic.
func HandleReportEvent(gk *pipeline.Gatekeeper) http.HandlerFunc {
	valid := map[reputation.Event]bool{
		reputation.EventProofSuccess:      true,
		reputation.EventRevocation:        true,
		reputation.EventFailedAttestation: true,
		reputation.EventAnomaly:           true,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		identity := mux.Vars(r)["id"]
		var req struct {
			Event  string `json:"event"`
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		event := reputation.Event(req.Event)
		if !valid[event] {
			http.Error(w, `{"error":"unknown reputation event"}`, http.StatusBadRequest)
			return
		}

		rec := gk.ReportEvent(r.Context(), identity, event, req.Detail)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

// HandleVerifyDigest checks a process digest ahead of batching and returns
// the compound provenance hash when it verifies.
func HandleVerifyDigest(gk *pipeline.Gatekeeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ContentHash string         `json:"content_hash"`
			Digest      *effort.Digest `json:"digest"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Digest == nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		result, err := gk.Accept(r.Context(), req.ContentHash, req.Digest)
		if err != nil {
			http.Error(w, `{"error":"verification failed internally"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

// parseWindowHours reads a window_hours query parameter, defaulting to 24.
func parseWindowHours(r *http.Request) time.Duration {
	hours := 24.0
	if v := r.URL.Query().Get("window_hours"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			hours = parsed
		}
	}
	return time.Duration(hours * float64(time.Hour))
}
