package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	"github.com/turtacn/BioSeq-Intelligence/pkg/types/common"
)

// defaultMaxBodySize bounds JSON request bodies when the server config does
// not say otherwise.
const defaultMaxBodySize = 4 << 20

// writeData writes a success envelope with the given status code.
func writeData(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	resp := common.APIResponse[interface{}]{
		Success:   true,
		Data:      data,
		RequestID: chimw.GetReqID(r.Context()),
		Timestamp: common.NewTimestamp(),
	}
	writeJSON(w, statusCode, resp)
}

// writePage writes a success envelope carrying pagination metadata.
func writePage(w http.ResponseWriter, r *http.Request, data interface{}, p common.Pagination) {
	resp := common.APIResponse[interface{}]{
		Success:    true,
		Data:       data,
		Pagination: &p,
		RequestID:  chimw.GetReqID(r.Context()),
		Timestamp:  common.NewTimestamp(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeAppError renders an error envelope. The HTTP status comes from the
// error code table; server-side failures are masked to their generic message
// so internals never leak into responses.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.GetCode(err)
	status := apperrors.HTTPStatusForCode(code)

	detail := &common.ErrorDetail{
		Code:    code.String(),
		Message: apperrors.DefaultMessageForCode(code),
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && status < http.StatusInternalServerError {
		detail.Message = appErr.Message
		if appErr.Detail != "" {
			detail.Details = map[string]interface{}{"detail": appErr.Detail}
		}
	}

	resp := common.APIResponse[interface{}]{
		Success:   false,
		Error:     detail,
		RequestID: chimw.GetReqID(r.Context()),
		Timestamp: common.NewTimestamp(),
	}
	writeJSON(w, status, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// decodeJSON reads a bounded JSON body into dst. A zero maxBytes falls back
// to defaultMaxBodySize.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperrors.Newf(apperrors.ErrCodeValidation, "request body exceeds %d bytes", maxBytes)
		case errors.Is(err, io.EOF):
			return apperrors.New(apperrors.ErrCodeValidation, "request body is empty")
		default:
			return apperrors.Wrap(err, apperrors.ErrCodeValidation, "malformed json body")
		}
	}
	return nil
}

// urlParam returns a chi path parameter.
func urlParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}

// parsePagination extracts page and page_size from query parameters.
// Defaults: page 1, page_size 20, capped at 100.
func parsePagination(r *http.Request) common.Pagination {
	p := common.Pagination{Page: 1, PageSize: 20}

	if v := r.URL.Query().Get("page"); v != "" {
		if page, err := strconv.Atoi(v); err == nil && page > 0 {
			p.Page = page
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size > 0 && size <= 100 {
			p.PageSize = size
		}
	}
	return p
}

// queryInt parses an integer query parameter, returning def when absent or
// unparsable.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// queryBool parses a boolean query parameter.
func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
