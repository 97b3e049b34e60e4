package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dededemahendra/crm/internal/domain"
	"github.com/dededemahendra/crm/internal/service"
	"github.com/dededemahendra/crm/internal/store"
)

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func listQuery(r *http.Request, fallbackLimit int, maxLimit int) domain.ListQuery {
	q := r.URL.Query()
	return domain.ListQuery{
		Start:     strings.TrimSpace(q.Get("start")),
		End:       strings.TrimSpace(q.Get("end")),
		ProductID: strings.TrimSpace(q.Get("product_id")),
		Category:  strings.TrimSpace(q.Get("category")),
		Limit:     parsePositiveLimit(q.Get("limit"), fallbackLimit, maxLimit),
	}
}

// statusFor maps service and store errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateSKU),
		errors.Is(err, store.ErrDuplicateUser),
		errors.Is(err, store.ErrAlreadyCancelled),
		errors.Is(err, store.ErrAlreadyVoided),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrNegativeQuantity),
		errors.Is(err, service.ErrOwnRoleChange):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var verr *service.ValidationError
	if status == http.StatusBadRequest && errors.As(err, &verr) {
		writeJSON(w, status, map[string]any{
			"error":   err.Error(),
			"details": verr.Fields,
		})
		return
	}
	a.writeError(w, status, err)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log only.
	msg := err.Error()
	if status >= 500 {
		a.log.WithField("status", status).WithError(err).Error("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeFile(w http.ResponseWriter, contentType string, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	if filename != "" {
		w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
