package server

import (
	"ParamLedger/internal/core"
	"ParamLedger/internal/fault"
	"ParamLedger/internal/ingestion"
	"ParamLedger/internal/observability"
	"ParamLedger/internal/persistence"
	"ParamLedger/internal/query"
	"ParamLedger/internal/state"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

const (
	defaultSubmitTimeout = 10 * time.Second
	maxCommandBody       = 1 << 20
)

type apiHandlers struct {
	qs        *query.QueryService
	submitter *ingestion.CommandSubmitter
	snapMgr   *persistence.SnapshotManager
	metrics   *observability.Metrics
	logger    zerolog.Logger
	timeout   time.Duration
}

type route struct {
	method  string
	pattern string
	name    string
	fn      func(r *http.Request, params map[string]string) (any, error)
}

func (h *apiHandlers) routes() []route {
	return []route{
		{http.MethodPost, "/v1/commands/{command}", "submit_command", h.submitCommand},
		{http.MethodGet, "/v1/records/{kind}/{id}", "get_record", h.getRecord},
		{http.MethodGet, "/v1/policies/{id}/claims", "list_claims", h.listChildren(state.KindClaim)},
		{http.MethodGet, "/v1/masters/{id}/flights", "list_flights", h.listChildren(state.KindFlight)},
		{http.MethodGet, "/v1/balances/{account_path}", "get_balance", h.getBalance},
		{http.MethodGet, "/v1/owners/{owner}/balances", "list_owner_balances", h.listOwnerBalances},
		{http.MethodGet, "/v1/journal/{account_path}", "journal_history", h.journalHistory},
		{http.MethodGet, "/v1/settlements/{partition}", "list_settlements", h.listSettlements},
		{http.MethodGet, "/v1/admin/integrity", "verify_integrity", h.verifyIntegrity},
		{http.MethodGet, "/v1/admin/event-log", "event_log_info", h.eventLogInfo},
	}
}

func (h *apiHandlers) register(mux *runtime.ServeMux) error {
	for _, rt := range h.routes() {
		if err := mux.HandlePath(rt.method, rt.pattern, h.wrap(rt)); err != nil {
			return fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

// wrap renders the handler's result or error as JSON and records metrics.
func (h *apiHandlers) wrap(rt route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		body, err := rt.fn(r, params)

		status := http.StatusOK
		if err != nil {
			status = statusFor(err)
			if status >= http.StatusInternalServerError {
				h.logger.Error().Err(err).Str("endpoint", rt.name).Msg("request failed")
			}
			body = ErrorBody{Code: errorCode(err), Error: err.Error()}
		}
		writeJSON(w, status, body)

		if h.metrics != nil {
			h.metrics.QueryRequests.WithLabelValues(rt.name, strconv.Itoa(status)).Inc()
			h.metrics.QueryDuration.WithLabelValues(rt.name).Observe(time.Since(start).Seconds())
		}
	}
}

// ErrorBody is the JSON form of every failed request.
type ErrorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// CommandResponse reports the outcome of an applied or duplicate command.
type CommandResponse struct {
	Sequence  int64          `json:"sequence"`
	Duplicate bool           `json:"duplicate"`
	StateHash string         `json:"state_hash,omitempty"`
	Records   []state.Record `json:"records,omitempty"`
}

// EventLogInfo is the admin view of the event log head.
type EventLogInfo struct {
	LastSequence int64 `json:"last_sequence"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return fault.HTTPStatus(err)
}

func errorCode(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return fault.Code(err)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *apiHandlers) submitCommand(r *http.Request, params map[string]string) (any, error) {
	if h.submitter == nil {
		return nil, fmt.Errorf("command submission disabled: %w", fault.ErrInvalidState)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %v: %w", err, fault.ErrInvalidInput)
	}
	if len(body) > maxCommandBody {
		return nil, fmt.Errorf("command body over %d bytes: %w", maxCommandBody, fault.ErrInputTooLong)
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	res, err := h.submitter.SubmitRaw(ctx, params["command"], body)
	if err != nil {
		return nil, err
	}
	return commandResponse(res), nil
}

func commandResponse(res *core.Result) CommandResponse {
	out := CommandResponse{Sequence: res.Sequence, Duplicate: res.Duplicate, Records: res.Records}
	if !res.Duplicate {
		out.StateHash = hex.EncodeToString(res.StateHash[:])
	}
	return out
}

func (h *apiHandlers) getRecord(r *http.Request, params map[string]string) (any, error) {
	kind, err := query.ParseRecordKind(params["kind"])
	if err != nil {
		return nil, err
	}
	id, err := parseID(params["id"])
	if err != nil {
		return nil, err
	}
	return h.qs.GetRecord(r.Context(), kind, id)
}

func (h *apiHandlers) listChildren(kind state.RecordKind) func(*http.Request, map[string]string) (any, error) {
	return func(r *http.Request, params map[string]string) (any, error) {
		parent, err := parseID(params["id"])
		if err != nil {
			return nil, err
		}
		records, err := h.qs.ListChildren(r.Context(), kind, parent)
		if err != nil {
			return nil, err
		}
		return nonNil(records), nil
	}
}

func (h *apiHandlers) getBalance(r *http.Request, params map[string]string) (any, error) {
	return h.qs.GetBalance(r.Context(), params["account_path"])
}

func (h *apiHandlers) listOwnerBalances(r *http.Request, params map[string]string) (any, error) {
	if params["owner"] == "" {
		return nil, fmt.Errorf("owner is required: %w", fault.ErrInvalidInput)
	}
	balances, err := h.qs.ListBalancesByOwner(r.Context(), params["owner"])
	if err != nil {
		return nil, err
	}
	return nonNil(balances), nil
}

func (h *apiHandlers) journalHistory(r *http.Request, params map[string]string) (any, error) {
	limit, err := intParam(r, "limit")
	if err != nil {
		return nil, err
	}
	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil || seq <= 0 {
			return nil, fmt.Errorf("before %q: %w", v, fault.ErrInvalidInput)
		}
		before = &seq
	}
	entries, err := h.qs.GetJournalHistory(r.Context(), params["account_path"], int(limit), before)
	if err != nil {
		return nil, err
	}
	return nonNil(entries), nil
}

func (h *apiHandlers) listSettlements(r *http.Request, params map[string]string) (any, error) {
	limit, err := intParam(r, "limit")
	if err != nil {
		return nil, err
	}
	settlements, err := h.qs.ListSettlements(r.Context(), params["partition"], int(limit))
	if err != nil {
		return nil, err
	}
	return nonNil(settlements), nil
}

func (h *apiHandlers) verifyIntegrity(r *http.Request, _ map[string]string) (any, error) {
	return h.qs.VerifyIntegrity(r.Context())
}

func (h *apiHandlers) eventLogInfo(r *http.Request, _ map[string]string) (any, error) {
	seq, err := h.snapMgr.GetLatestSequence(r.Context())
	if err != nil {
		return nil, err
	}
	return EventLogInfo{LastSequence: seq}, nil
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("id %q: %w", s, fault.ErrInvalidInput)
	}
	return id, nil
}

func intParam(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s %q: %w", name, v, fault.ErrInvalidInput)
	}
	return n, nil
}

// nonNil makes empty lists render as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
