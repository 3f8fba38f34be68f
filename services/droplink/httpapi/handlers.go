// Package httpapi exposes the drop service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/droplink/internal/chain"
	apperrors "github.com/R3E-Network/droplink/internal/errors"
	"github.com/R3E-Network/droplink/internal/httputil"
	"github.com/R3E-Network/droplink/internal/logging"
	"github.com/R3E-Network/droplink/internal/middleware"
	"github.com/R3E-Network/droplink/services/droplink"
)

// Handler serves the drop API.
type Handler struct {
	svc *droplink.Service
	log *logging.Logger
}

// New creates a Handler.
func New(svc *droplink.Service, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Default(droplink.ServiceID)
	}
	return &Handler{svc: svc, log: log}
}

// Register mounts the routes on r. auth guards the sender-only routes.
func (h *Handler) Register(r *mux.Router, auth mux.MiddlewareFunc) {
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/drops/{id}", h.handleGetDrop).Methods(http.MethodGet)
	r.HandleFunc("/drops/{id}/claim", h.handleClaimDrop).Methods(http.MethodPost)

	protected := r.NewRoute().Subrouter()
	if auth != nil {
		protected.Use(auth)
	}
	protected.Use(middleware.RequireCaller)
	protected.HandleFunc("/drops", h.handleCreateDrop).Methods(http.MethodPost)
	protected.HandleFunc("/drops/{id}/reclaim", h.handleReclaimDrop).Methods(http.MethodPost)
}

// =============================================================================
// Request/Response types
// =============================================================================

// CreateDropInput is the body of POST /drops.
type CreateDropInput struct {
	ID         string `json:"id"`
	PubKeyX    string `json:"pub_key_x"`
	PubKeyY    string `json:"pub_key_y"`
	Gatekeeper string `json:"gatekeeper"`
	ExpiresAt  uint64 `json:"expires_at"`
	Amount     string `json:"amount"`
	GasLimit   uint64 `json:"gas_limit,omitempty"`
}

// ClaimDropInput is the body of POST /drops/{id}/claim.
type ClaimDropInput struct {
	Receiver           string `json:"receiver"`
	AgentSignature     string `json:"agent_signature"`
	BiometricSignature string `json:"biometric_signature"`
	MessageHash        string `json:"message_hash"`
	GasLimit           uint64 `json:"gas_limit,omitempty"`
}

// ReclaimDropInput is the optional body of POST /drops/{id}/reclaim.
type ReclaimDropInput struct {
	GasLimit uint64 `json:"gas_limit,omitempty"`
}

// DropResponse is a projection together with its id.
type DropResponse struct {
	ID droplink.DropID `json:"id"`
	droplink.DropView
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// =============================================================================
// HTTP Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Service:   droplink.ServiceName,
		Version:   droplink.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleCreateDrop(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetCaller(r.Context())

	var input CreateDropInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}

	id, err := droplink.ParseDropID(input.ID)
	if err != nil {
		h.writeError(w, r, apperrors.InvalidFormat("id", "decimal or 0x-hex 256-bit integer"))
		return
	}
	pubX, err := droplink.ParseHexBytes(input.PubKeyX)
	if err != nil {
		h.writeError(w, r, apperrors.InvalidFormat("pub_key_x", "hex bytes"))
		return
	}
	pubY, err := droplink.ParseHexBytes(input.PubKeyY)
	if err != nil {
		h.writeError(w, r, apperrors.InvalidFormat("pub_key_y", "hex bytes"))
		return
	}
	gatekeeper, err := parseOptionalAddress(input.Gatekeeper)
	if err != nil {
		h.writeError(w, r, apperrors.InvalidFormat("gatekeeper", "20-byte hex address"))
		return
	}
	amount, ok := parseAmount(input.Amount)
	if !ok {
		h.writeError(w, r, apperrors.InvalidFormat("amount", "non-negative decimal integer"))
		return
	}

	drop, err := h.svc.CreateDrop(r.Context(), droplink.CreateDropRequest{
		ID:         id,
		Sender:     caller,
		Amount:     amount,
		ExpiresAt:  input.ExpiresAt,
		Gatekeeper: gatekeeper,
		PubKeyX:    pubX,
		PubKeyY:    pubY,
		GasLimit:   input.GasLimit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, DropResponse{ID: drop.ID, DropView: drop.View()})
}

func (h *Handler) handleClaimDrop(w http.ResponseWriter, r *http.Request) {
	id, ok := h.dropID(w, r)
	if !ok {
		return
	}

	var input ClaimDropInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	receiver, err := chain.ParseAddress(input.Receiver)
	if err != nil {
		h.writeError(w, r, apperrors.InvalidFormat("receiver", "20-byte hex address"))
		return
	}
	agentSig, err := droplink.ParseHexBytes(input.AgentSignature)
	if err != nil {
		h.writeError(w, r, apperrors.InvalidFormat("agent_signature", "hex bytes"))
		return
	}
	bioSig, err := droplink.ParseHexBytes(input.BiometricSignature)
	if err != nil {
		h.writeError(w, r, apperrors.InvalidFormat("biometric_signature", "hex bytes"))
		return
	}
	msgHash, err := droplink.ParseHexBytes(input.MessageHash)
	if err != nil {
		h.writeError(w, r, apperrors.InvalidFormat("message_hash", "hex bytes"))
		return
	}

	result, err := h.svc.ClaimDrop(r.Context(), droplink.ClaimDropRequest{
		ID:                 id,
		Receiver:           receiver,
		AgentSignature:     agentSig,
		BiometricSignature: bioSig,
		MessageHash:        msgHash,
		GasLimit:           input.GasLimit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleReclaimDrop(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetCaller(r.Context())
	id, ok := h.dropID(w, r)
	if !ok {
		return
	}

	var input ReclaimDropInput
	if r.ContentLength != 0 && !httputil.DecodeJSON(w, r, &input) {
		return
	}

	result, err := h.svc.ReclaimDrop(r.Context(), droplink.ReclaimDropRequest{
		ID:       id,
		Caller:   caller,
		GasLimit: input.GasLimit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetDrop(w http.ResponseWriter, r *http.Request) {
	id, ok := h.dropID(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Drops(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DropResponse{ID: id, DropView: view})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) dropID(w http.ResponseWriter, r *http.Request) (droplink.DropID, bool) {
	id, err := droplink.ParseDropID(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, apperrors.InvalidFormat("id", "decimal or 0x-hex 256-bit integer"))
		return droplink.DropID{}, false
	}
	return id, true
}

var errRequestTimeout = apperrors.New("REQUEST_TIMEOUT", "request cancelled or timed out", http.StatusServiceUnavailable)

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = errRequestTimeout.Wrap(err)
	}
	if apperrors.GetServiceError(err) == nil {
		h.log.WithContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("unhandled error")
	}
	httputil.WriteError(w, err)
}

func parseOptionalAddress(s string) (chain.Address, error) {
	if strings.TrimSpace(s) == "" {
		return chain.ZeroAddress, nil
	}
	return chain.ParseAddress(s)
}

func parseAmount(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), true
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}
