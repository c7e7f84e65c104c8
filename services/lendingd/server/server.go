// Package server exposes the lending engine over HTTP/JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nftlend/crypto"
	"nftlend/gateway/middleware"
	"nftlend/native/lending"
	"nftlend/services/lendingd/archive"
)

const (
	requestLimit    = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
	rateLimitKey    = "lending"
)

// EventLog pages through archived engine events.
type EventLog interface {
	List(ctx context.Context, afterSeq uint64, limit int) ([]archive.Entry, error)
}

// Config captures the dependencies of the HTTP surface. Only Service is
// required.
type Config struct {
	Service       *Service
	Events        EventLog
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

// Server routes HTTP requests to the lending service.
type Server struct {
	svc    *Service
	events EventLog
	obs    *middleware.Observability
	logger *slog.Logger

	router http.Handler
}

// New builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("server: service required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("server: authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{svc: cfg.Service, events: cfg.Events, obs: cfg.Observability, logger: logger}
	srv.router = otelhttp.NewHandler(srv.buildRouter(cfg), "lendingd")
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORS))

	r.With(s.observe("healthz")).Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.obs != nil {
		r.Handle("/metrics", s.obs.MetricsHandler())
	}

	r.Route("/v1", func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(cfg.RateLimiter.Middleware(rateLimitKey))
		}
		api.Use(cfg.Authenticator.Middleware())

		api.With(s.observe("collections.verify")).Post("/collections", s.verifyCollection)
		api.With(s.observe("collections.get")).Get("/collections/{addr}", s.getCollection)

		api.With(s.observe("offers.add")).Post("/offers", s.addOffer)
		api.With(s.observe("offers.get")).Get("/offers/{id}", s.getOffer)
		api.With(s.observe("offers.edit")).Post("/offers/{id}/edit", s.editOffer)
		api.With(s.observe("offers.revoke")).Post("/offers/{id}/revoke", s.revokeOffer)

		api.With(s.observe("loans.borrow")).Post("/loans", s.borrow)
		api.With(s.observe("loans.get")).Get("/loans/{id}", s.getLoan)
		api.With(s.observe("loans.extend")).Post("/loans/{id}/extend", s.extend)
		api.With(s.observe("loans.repay")).Post("/loans/{id}/repay", s.repay)
		api.With(s.observe("loans.liquidate")).Post("/loans/{id}/liquidate", s.liquidate)

		api.With(s.observe("config.get")).Get("/config", s.getConfig)
		api.With(s.observe("fees.get")).Get("/fees", s.getFees)
		api.With(s.observe("nonces.get")).Get("/nonces/{addr}", s.getNonce)

		api.With(s.observe("admin.config")).Post("/admin/config", s.setConfig)
		api.With(s.observe("admin.fees")).Post("/admin/fees/withdraw", s.withdrawFees)
		api.With(s.observe("admin.pause")).Post("/admin/pause", s.setPause)

		api.With(s.observe("bank.token_approve")).Post("/bank/token/approve", s.approveToken)
		api.With(s.observe("bank.nft_approve")).Post("/bank/nft/approve", s.approveNFT)
		api.With(s.observe("bank.account")).Get("/bank/accounts/{addr}", s.getAccount)
		api.With(s.observe("bank.owner")).Get("/bank/nft/{collection}/{tokenId}", s.getOwner)

		api.With(s.observe("events.list")).Get("/events", s.listEvents)
	})
	return r
}

func (s *Server) observe(route string) func(http.Handler) http.Handler {
	if s.obs == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.obs.Middleware(route)
}

// requestID propagates the caller's request id or assigns a fresh one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// call builds the engine call for the authenticated caller. It writes the
// error response itself and reports false when the request must stop.
func (s *Server) call(w http.ResponseWriter, r *http.Request, rawValue string) (lending.Call, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || principal.Caller.IsZero() {
		writeJSONError(w, http.StatusUnauthorized, errors.New("caller identity required"))
		return lending.Call{}, false
	}
	value, err := parseAmount("value", rawValue, false)
	if err != nil {
		s.writeError(w, err)
		return lending.Call{}, false
	}
	return lending.Call{Caller: principal.Caller, Value: value}, true
}

func (s *Server) verifyCollection(w http.ResponseWriter, r *http.Request) {
	var req verifyCollectionRequest
	if !s.decode(w, r, &req) {
		return
	}
	call, ok := s.call(w, r, "")
	if !ok {
		return
	}
	id, err := s.svc.VerifyCollection(call, req.Collection)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.addressParam(w, r, "addr")
	if !ok {
		return
	}
	id, err := s.svc.CollectionID(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collectionResponse{Collection: addr, ID: id, Verified: id != 0})
}

func (s *Server) addOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if !s.decode(w, r, &req) {
		return
	}
	call, ok := s.call(w, r, req.Value)
	if !ok {
		return
	}
	unitAmount, err := parseAmount("unitAmount", req.UnitAmount, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	kind, err := lending.ParseAssetKind(req.AssetKind)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.svc.AddOffer(call, lending.OfferRequest{
		OfferID:    req.OfferID,
		Collection: req.Collection,
		UnitAmount: unitAmount,
		SlotCount:  req.SlotCount,
		Kind:       kind,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) getOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	offer, err := s.svc.Offer(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(offer))
}

func (s *Server) editOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	var req editOfferRequest
	if !s.decode(w, r, &req) {
		return
	}
	call, ok := s.call(w, r, req.Value)
	if !ok {
		return
	}
	unitAmount, err := parseAmount("unitAmount", req.UnitAmount, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.EditOffer(call, id, unitAmount, req.SlotCount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOffer(w, id)
}

func (s *Server) revokeOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	call, ok := s.call(w, r, "")
	if !ok {
		return
	}
	if err := s.svc.RevokeOffer(call, id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOffer(w, id)
}

func (s *Server) writeOffer(w http.ResponseWriter, id uint64) {
	offer, err := s.svc.Offer(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(offer))
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if !s.decode(w, r, &req) {
		return
	}
	call, ok := s.call(w, r, "")
	if !ok {
		return
	}
	intent, err := req.Intent.decode()
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.svc.Borrow(call, lending.BorrowRequest{
		Intent:     intent,
		Collection: req.Collection,
		TokenIDs:   req.TokenIDs,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	s.writeLoan(w, id)
}

func (s *Server) writeLoan(w http.ResponseWriter, id uint64) {
	loan, tokenIDs, err := s.svc.Loan(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanResponse(loan, tokenIDs))
}

func (s *Server) extend(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	var req extendRequest
	if !s.decode(w, r, &req) {
		return
	}
	call, ok := s.call(w, r, req.Value)
	if !ok {
		return
	}
	intent, err := req.Intent.decode()
	if err != nil {
		s.writeError(w, err)
		return
	}
	successor, err := s.svc.Extend(call, id, intent, req.Collection)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: successor})
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if !s.decode(w, r, &req) {
		return
	}
	call, ok := s.call(w, r, req.Value)
	if !ok {
		return
	}
	if err := s.svc.Repay(call, id, req.Collection); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeLoan(w, id)
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if !s.decode(w, r, &req) {
		return
	}
	call, ok := s.call(w, r, req.Value)
	if !ok {
		return
	}
	if err := s.svc.Liquidate(call, id, req.Collection); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeLoan(w, id)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.svc.Config()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigResponse(cfg, s.svc.Paused()))
}

func (s *Server) getFees(w http.ResponseWriter, r *http.Request) {
	fees, err := s.svc.FeeBalances()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeesResponse(fees))
}

func (s *Server) getNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.addressParam(w, r, "addr")
	if !ok {
		return
	}
	nonce, err := s.svc.Nonce(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonceResponse{Borrower: addr, Nonce: nonce})
}

func (s *Server) setConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !s.decode(w, r, &req) {
		return
	}
	call, ok := s.call(w, r, "")
	if !ok {
		return
	}
	update := lending.ConfigUpdate{Signer: req.Signer, FeeRateBps: req.FeeRateBps, NonceWindow: req.NonceWindow}
	if err := s.svc.SetConfig(call, update); err != nil {
		s.writeError(w, err)
		return
	}
	s.getConfig(w, r)
}

func (s *Server) withdrawFees(w http.ResponseWriter, r *http.Request) {
	call, ok := s.call(w, r, "")
	if !ok {
		return
	}
	withdrawn, err := s.svc.WithdrawFees(call)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeesResponse(withdrawn))
}

func (s *Server) setPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !s.decode(w, r, &req) {
		return
	}
	call, ok := s.call(w, r, "")
	if !ok {
		return
	}
	if err := s.svc.SetPaused(call.Caller, req.Paused); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pauseRequest{Paused: s.svc.Paused()})
}

func (s *Server) approveToken(w http.ResponseWriter, r *http.Request) {
	var req tokenApprovalRequest
	if !s.decode(w, r, &req) {
		return
	}
	call, ok := s.call(w, r, "")
	if !ok {
		return
	}
	amount, err := parseAmount("amount", req.Amount, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.ApproveToken(call.Caller, amount); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) approveNFT(w http.ResponseWriter, r *http.Request) {
	var req nftApprovalRequest
	if !s.decode(w, r, &req) {
		return
	}
	call, ok := s.call(w, r, "")
	if !ok {
		return
	}
	if req.Collection.IsZero() {
		s.writeError(w, fmt.Errorf("%w: collection required", lending.ErrInvalidParams))
		return
	}
	if err := s.svc.SetApprovalForAll(call.Caller, req.Collection, req.Approved); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.addressParam(w, r, "addr")
	if !ok {
		return
	}
	account, err := s.svc.Account(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(addr, account))
}

func (s *Server) getOwner(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.addressParam(w, r, "collection")
	if !ok {
		return
	}
	tokenID, err := strconv.ParseUint(chi.URLParam(r, "tokenId"), 10, 16)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid token id", lending.ErrInvalidParams))
		return
	}
	owner, err := s.svc.OwnerOf(collection, uint16(tokenID))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collection": collection, "tokenId": tokenID, "owner": owner})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSONError(w, http.StatusNotFound, errors.New("event archive disabled"))
		return
	}
	query := r.URL.Query()
	var after uint64
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, errors.New("after must be an unsigned integer"))
			return
		}
		after = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	entries, err := s.events.List(r.Context(), after, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

func (s *Server) idParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return 0, false
	}
	return id, true
}

func (s *Server) addressParam(w http.ResponseWriter, r *http.Request, name string) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, name))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %s: %v", lending.ErrInvalidParams, name, err))
		return crypto.Address{}, false
	}
	return addr, true
}

// decode reads a JSON body of at most requestLimit bytes. An empty body
// decodes as an empty object.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, requestLimit+1))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("read request body: %w", err))
		return false
	}
	if len(data) > requestLimit {
		writeJSONError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return false
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return true
	}
	if err := json.Unmarshal(data, v); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := toStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("lending request failed", "error", err)
	}
	writeJSONError(w, status, errors.New(errorMessage(err)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
