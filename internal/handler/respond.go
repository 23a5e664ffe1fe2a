package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookshop/internal/domain/announcement"
	"github.com/xenking/bookshop/internal/domain/auth"
	"github.com/xenking/bookshop/internal/domain/book"
	"github.com/xenking/bookshop/internal/domain/bookmark"
	"github.com/xenking/bookshop/internal/domain/cart"
	"github.com/xenking/bookshop/internal/domain/order"
	"github.com/xenking/bookshop/internal/domain/review"
	"github.com/xenking/bookshop/internal/upload"
	"github.com/xenking/bookshop/internal/validation"
)

const maxJSONBody = 1 << 20

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Fields  validation.Errors `json:"fields,omitempty"`
}

// badRequestError wraps malformed input that never reached the domain.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return badRequest("malformed JSON body: " + err.Error())
	}
	return nil
}

// mapError returns the status and body for err. ok is false for
// unexpected errors, which are reported as a bare 500.
func mapError(err error) (body errorBody, ok bool) {
	var (
		verr     *validation.Error
		breq     *badRequestError
		maxErr   *http.MaxBytesError
		stockErr *order.InsufficientStockError
		transErr *order.TransitionError
	)
	switch {
	case errors.As(err, &verr):
		return errorBody{Code: http.StatusBadRequest, Message: "validation failed", Fields: verr.Fields}, true
	case errors.As(err, &breq):
		return errorBody{Code: http.StatusBadRequest, Message: breq.msg}, true
	case errors.As(err, &stockErr):
		return errorBody{
			Code:    http.StatusBadRequest,
			Message: stockErr.Error(),
			Fields:  validation.Errors{stockErr.BookID: "only " + strconv.Itoa(stockErr.Available) + " in stock"},
		}, true
	case errors.As(err, &transErr):
		return errorBody{Code: http.StatusConflict, Message: transErr.Error()}, true
	case errors.As(err, &maxErr), errors.Is(err, upload.ErrTooLarge):
		return errorBody{Code: http.StatusRequestEntityTooLarge, Message: "request body too large"}, true
	case errors.Is(err, upload.ErrUnsupportedType):
		return errorBody{Code: http.StatusUnsupportedMediaType, Message: err.Error()}, true
	case errors.Is(err, order.ErrEmptyCart), errors.Is(err, upload.ErrEmpty):
		return errorBody{Code: http.StatusBadRequest, Message: err.Error()}, true
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidCredentials):
		return errorBody{Code: http.StatusUnauthorized, Message: err.Error()}, true
	case errors.Is(err, auth.ErrForbidden),
		errors.Is(err, order.ErrForbidden),
		errors.Is(err, review.ErrForbidden):
		return errorBody{Code: http.StatusForbidden, Message: err.Error()}, true
	case errors.Is(err, book.ErrNotFound),
		errors.Is(err, cart.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrClaimCodeNotFound),
		errors.Is(err, review.ErrNotFound),
		errors.Is(err, bookmark.ErrNotFound),
		errors.Is(err, announcement.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return errorBody{Code: http.StatusNotFound, Message: err.Error()}, true
	case errors.Is(err, book.ErrConflict),
		errors.Is(err, book.ErrDuplicateISBN),
		errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, order.ErrClaimCodeUsed),
		errors.Is(err, review.ErrDuplicate),
		errors.Is(err, auth.ErrEmailTaken):
		return errorBody{Code: http.StatusConflict, Message: err.Error()}, true
	}
	return errorBody{Code: http.StatusInternalServerError, Message: "internal error"}, false
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body, ok := mapError(err)
	if !ok {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("route", r.Pattern),
			zap.Error(err),
		)
	}
	writeJSON(w, body.Code, body)
}

// queryInt parses an optional non-negative integer parameter.
func queryInt(r *http.Request, errs validation.Errors, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		errs.Add(name, "must be a non-negative integer")
		return 0
	}
	return n
}

func queryBool(r *http.Request, errs validation.Errors, name string) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		errs.Add(name, "must be true or false")
	}
	return v
}
