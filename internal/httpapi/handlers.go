package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/hub"
)

const maxBody = 1 << 20

// Error codes carried in ErrorBody.Code.
const (
	CodeUnknownTable = "unknown_table"
	CodeNotFound     = "not_found"
	CodeBadQuery     = "bad_query"
	CodeBadRow       = "bad_row"
	CodeConflict     = "conflict"
	CodeInternal     = "internal"
)

type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{backend.ErrUnknownTable, CodeUnknownTable, http.StatusNotFound},
	{backend.ErrNotFound, CodeNotFound, http.StatusNotFound},
	{backend.ErrBadQuery, CodeBadQuery, http.StatusBadRequest},
	{backend.ErrBadRow, CodeBadRow, http.StatusUnprocessableEntity},
	{backend.ErrConflict, CodeConflict, http.StatusConflict},
}

// ErrorForCode maps a wire code back to its sentinel; unknown codes give nil.
func ErrorForCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	body := ErrorBody{Error: err.Error(), Code: CodeInternal}
	status := http.StatusInternalServerError
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			body.Code, status = c.code, c.status
			break
		}
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func ListRows(f backend.Fetcher, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := backend.QueryFromValues(chi.URLParam(r, "table"), r.URL.Query())
		if err != nil {
			writeError(w, log, err)
			return
		}
		rows, err := f.Fetch(r.Context(), q)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func InsertRow(m backend.Mutator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			writeError(w, log, errors.Join(backend.ErrBadRow, err))
			return
		}
		row, err := m.Insert(r.Context(), chi.URLParam(r, "table"), body)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, row)
	}
}

func UpdateRow(m backend.Mutator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			writeError(w, log, errors.Join(backend.ErrBadRow, err))
			return
		}
		row, err := m.Update(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id"), body)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}

func DeleteRow(m backend.Mutator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Delete(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id")); err != nil {
			writeError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type health struct {
	Status string    `json:"status"`
	Hub    hub.Stats `json:"hub"`
}

func Healthz(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := h.Stats(r.Context())
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, health{Status: "ok", Hub: st})
	}
}
