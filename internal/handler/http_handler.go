package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/devrev/pairdb/storage-rent/internal/amount"
	"github.com/devrev/pairdb/storage-rent/internal/errors"
	"github.com/devrev/pairdb/storage-rent/internal/metrics"
	"github.com/devrev/pairdb/storage-rent/internal/middleware"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"github.com/devrev/pairdb/storage-rent/internal/service"
	"github.com/devrev/pairdb/storage-rent/internal/store"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Headers carrying the call context
const (
	CallerIDHeader        = "X-Caller-ID"
	AttachedDepositHeader = "X-Attached-Deposit"
	IdempotencyKeyHeader  = "Idempotency-Key"
	ReplayedHeader        = "Idempotent-Replayed"
)

// maxBodyBytes bounds request bodies; every request body is a small JSON object
const maxBodyBytes = 64 * 1024

// writeEstimate is the disk space reserved for one mutating call
const writeEstimate = 512

// WriteGuard rejects writes when the data disk is close to full
type WriteGuard interface {
	CheckBeforeWrite(estimatedBytes uint64) error
}

// HTTPHandlerConfig holds HTTP handler configuration
type HTTPHandlerConfig struct {
	IdempotencyTTL time.Duration
}

// HTTPHandler serves the rent API over HTTP
type HTTPHandler struct {
	rentService *service.RentService
	guard       WriteGuard
	idempotency store.IdempotencyStore
	ttl         time.Duration
	inflight    singleflight.Group
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewHTTPHandler creates a new HTTP handler. guard and idempotency may be nil.
func NewHTTPHandler(
	cfg *HTTPHandlerConfig,
	rentService *service.RentService,
	guard WriteGuard,
	idempotency store.IdempotencyStore,
	m *metrics.Metrics,
	logger *zap.Logger,
) *HTTPHandler {
	ttl := cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &HTTPHandler{
		rentService: rentService,
		guard:       guard,
		idempotency: idempotency,
		ttl:         ttl,
		metrics:     m,
		logger:      logger,
	}
}

// RegisterRoutes registers the API routes on router
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/v1").Subrouter()
	// Subrouters do not inherit these from the parent
	v1.NotFoundHandler = http.HandlerFunc(NotFoundHandler)
	v1.MethodNotAllowedHandler = http.HandlerFunc(MethodNotAllowedHandler)

	v1.HandleFunc("/storage/deposit", h.Deposit).Methods(http.MethodPost)
	v1.HandleFunc("/storage/withdraw", h.Withdraw).Methods(http.MethodPost)
	v1.HandleFunc("/storage/unregister", h.Unregister).Methods(http.MethodPost)
	v1.HandleFunc("/storage/bounds", h.BalanceBounds).Methods(http.MethodGet)
	v1.HandleFunc("/storage/balance/{account_id}", h.BalanceOf).Methods(http.MethodGet)

	v1.HandleFunc("/accounts/{account_id}", h.AccountInfo).Methods(http.MethodGet)

	v1.HandleFunc("/admin/state", h.GetContractState).Methods(http.MethodGet)
	v1.HandleFunc("/admin/state", h.SetContractState).Methods(http.MethodPut)
}

// UnregisterResponse is the body of a successful unregister call
type UnregisterResponse struct {
	Unregistered bool `json:"unregistered"`
}

// SetStateRequest is the body of PUT /v1/admin/state
type SetStateRequest struct {
	RunningState model.RunningState `json:"running_state"`
}

// Deposit handles POST /v1/storage/deposit requests.
func (h *HTTPHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req model.DepositRequest
	h.mutate(w, r, model.OperationDeposit, &req, func(ctx context.Context, cc model.CallContext) (int, interface{}, error) {
		balance, err := h.rentService.Deposit(ctx, cc, req.AccountID, req.RegistrationOnly)
		return http.StatusOK, balance, err
	})
}

// Withdraw handles POST /v1/storage/withdraw requests.
func (h *HTTPHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req model.WithdrawRequest
	h.mutate(w, r, model.OperationWithdraw, &req, func(ctx context.Context, cc model.CallContext) (int, interface{}, error) {
		balance, err := h.rentService.Withdraw(ctx, cc, req.Amount)
		return http.StatusOK, balance, err
	})
}

// Unregister handles POST /v1/storage/unregister requests.
func (h *HTTPHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	var req model.UnregisterRequest
	h.mutate(w, r, model.OperationUnregister, &req, func(ctx context.Context, cc model.CallContext) (int, interface{}, error) {
		removed, err := h.rentService.Unregister(ctx, cc, req.Force)
		return http.StatusOK, &UnregisterResponse{Unregistered: removed}, err
	})
}

// SetContractState handles PUT /v1/admin/state requests.
func (h *HTTPHandler) SetContractState(w http.ResponseWriter, r *http.Request) {
	var req SetStateRequest
	h.mutate(w, r, model.OperationSetRunningState, &req, func(ctx context.Context, cc model.CallContext) (int, interface{}, error) {
		st, err := h.rentService.SetRunningState(ctx, cc, req.RunningState)
		return http.StatusOK, st, err
	})
}

// BalanceBounds handles GET /v1/storage/bounds requests.
func (h *HTTPHandler) BalanceBounds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rentService.BalanceBounds(r.Context()))
}

// BalanceOf handles GET /v1/storage/balance/{account_id} requests. An
// unregistered account is reported as 404 ACCOUNT_NOT_FOUND.
func (h *HTTPHandler) BalanceOf(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]

	balance, err := h.rentService.BalanceOf(r.Context(), accountID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if balance == nil {
		h.handleError(w, r, errors.AccountNotFound(accountID))
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// AccountInfo handles GET /v1/accounts/{account_id} requests.
func (h *HTTPHandler) AccountInfo(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]

	info, err := h.rentService.AccountInfo(r.Context(), accountID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if info == nil {
		h.handleError(w, r, errors.AccountNotFound(accountID))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetContractState handles GET /v1/admin/state requests.
func (h *HTTPHandler) GetContractState(w http.ResponseWriter, r *http.Request) {
	st, err := h.rentService.ContractState(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// mutate decodes the body into req, builds the call context, and runs fn.
// With an Idempotency-Key the encoded response is cached and concurrent
// duplicates share one execution.
func (h *HTTPHandler) mutate(
	w http.ResponseWriter,
	r *http.Request,
	op model.Operation,
	req interface{},
	fn func(ctx context.Context, cc model.CallContext) (int, interface{}, error),
) {
	requestID := middleware.GetRequestID(r.Context())

	if err := decodeBody(r, req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, err.Error(), requestID)
		return
	}

	cc, err := callContext(r, requestID)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, err.Error(), requestID)
		return
	}

	execute := func(ctx context.Context) *store.CachedResponse {
		if h.guard != nil {
			if err := h.guard.CheckBeforeWrite(writeEstimate); err != nil {
				return h.encodeError(r, err, requestID)
			}
		}

		statusCode, result, err := fn(ctx, cc)
		if err != nil {
			return h.encodeError(r, err, requestID)
		}

		body, err := json.Marshal(result)
		if err != nil {
			return h.encodeError(r, errors.InternalError("failed to encode response", err), requestID)
		}
		return &store.CachedResponse{StatusCode: statusCode, Body: body, CreatedAt: time.Now().Unix()}
	}

	idemKey := r.Header.Get(IdempotencyKeyHeader)
	if idemKey == "" || h.idempotency == nil {
		resp := execute(r.Context())
		writeRaw(w, resp.StatusCode, resp.Body)
		return
	}

	key := store.BuildKey(cc.Caller, string(op), idemKey)
	fp := fingerprint(cc, req)
	leader, cacheHit := false, false
	v, _, shared := h.inflight.Do(key, func() (interface{}, error) {
		leader = true
		cached, err := h.idempotency.Get(r.Context(), key)
		if err == nil {
			cacheHit = true
			return cached, nil
		}
		if !stderrors.Is(err, store.ErrNotFound) {
			h.logger.Warn("Idempotency lookup failed",
				zap.String("request_id", requestID),
				zap.Error(err))
		}

		resp := execute(r.Context())
		resp.Fingerprint = fp
		if resp.StatusCode < http.StatusInternalServerError {
			if err := h.idempotency.Set(r.Context(), key, resp, h.ttl); err != nil {
				h.logger.Warn("Failed to cache idempotent response",
					zap.String("request_id", requestID),
					zap.Error(err))
			}
		}
		return resp, nil
	})

	resp := v.(*store.CachedResponse)
	if resp.Fingerprint != "" && resp.Fingerprint != fp {
		writeErrorResponse(w, http.StatusUnprocessableEntity, ErrorCodeIdempotencyMismatch,
			"idempotency key was used with a different request", requestID)
		return
	}

	// Waiters on another request's execution get its response too
	if cacheHit || (shared && !leader) {
		h.metrics.RecordIdempotentReplay()
		w.Header().Set(ReplayedHeader, "true")
		h.logger.Debug("Replayed idempotent response",
			zap.String("operation", string(op)),
			zap.String("caller_id", cc.Caller),
			zap.String("request_id", requestID))
	}
	writeRaw(w, resp.StatusCode, resp.Body)
}

// fingerprint identifies the attached amount and decoded body of a request
func fingerprint(cc model.CallContext, req interface{}) string {
	body, _ := json.Marshal(req)
	sum := sha256.New()
	sum.Write([]byte(cc.Attached.String()))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

func (h *HTTPHandler) encodeError(r *http.Request, err error, requestID string) *store.CachedResponse {
	statusCode, body := errorBody(err, requestID)
	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.Error(err))
	}
	data, _ := json.Marshal(body)
	return &store.CachedResponse{StatusCode: statusCode, Body: data, CreatedAt: time.Now().Unix()}
}

func (h *HTTPHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	resp := h.encodeError(r, err, middleware.GetRequestID(r.Context()))
	writeRaw(w, resp.StatusCode, resp.Body)
}

// callContext builds the call context from the request headers
func callContext(r *http.Request, requestID string) (model.CallContext, error) {
	cc := model.CallContext{
		Caller:    r.Header.Get(CallerIDHeader),
		Attached:  amount.Zero(),
		RequestID: requestID,
	}
	if cc.Caller == "" {
		return cc, fmt.Errorf("%s header is required", CallerIDHeader)
	}

	if raw := r.Header.Get(AttachedDepositHeader); raw != "" {
		attached, err := amount.Parse(raw)
		if err != nil {
			return cc, fmt.Errorf("invalid %s: %w", AttachedDepositHeader, err)
		}
		cc.Attached = attached
	}
	return cc, nil
}

// decodeBody decodes an optional JSON body. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// NotFoundHandler answers requests for unknown routes
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeErrorResponse(w, http.StatusNotFound, ErrorCodeNotFound, "route not found", middleware.GetRequestID(r.Context()))
}

// MethodNotAllowedHandler answers requests with an unsupported method
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeErrorResponse(w, http.StatusMethodNotAllowed, ErrorCodeMethodNotAllowed, "method not allowed", middleware.GetRequestID(r.Context()))
}
