package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/orgchat/internal/logger"
	"github.com/orgchat/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps service errors to HTTP statuses. Anything that is
// not a typed service error is an internal failure: log it, hide the detail.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		switch svcErr.Kind {
		case service.KindAccessDenied:
			writeError(w, http.StatusForbidden, svcErr.Message)
		case service.KindNotFound:
			writeError(w, http.StatusNotFound, svcErr.Message)
		case service.KindInvalidRequest:
			writeError(w, http.StatusBadRequest, svcErr.Message)
		default:
			writeError(w, http.StatusInternalServerError, svcErr.Message)
		}
		return
	}
	logger.Errorf("%s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
