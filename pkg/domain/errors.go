package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrPasteNotFound covers absent, expired and already-deleted ids alike,
	// so callers cannot probe which of the three it was.
	ErrPasteNotFound     = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrPasswordRequired  = NewErr("PASSWORD_REQUIRED", "password required", http.StatusUnauthorized)
	ErrInvalidPassword   = NewErr("INVALID_PASSWORD", "invalid password", http.StatusUnauthorized)
	ErrStorageFailure    = NewErr("STORAGE_FAILURE", "storage failure", http.StatusInternalServerError)
	ErrInvalidRequest    = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrPasteTooLarge     = NewErr("PASTE_TOO_LARGE", "paste too large", http.StatusBadRequest)
	ErrRateLimitExceeded = NewErr("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrInternalServer    = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}

type ErrDetail struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

// ToResp maps any error to its user-visible classified form. Unclassified
// errors collapse to a generic internal error; the detail stays in the logs.
func ToResp(err error) ErrResp {
	if e, ok := classify(err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal error"}}
}

func Status(err error) int {
	if e, ok := classify(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}

func classify(err error) (*Err, bool) {
	if e, ok := err.(*Err); ok {
		return e, true
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e, true
	}
	return nil, false
}
