package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrInvalidURL        = NewErr("INVALID_URL", "the specified URL is invalid, or is the wrong length", http.StatusBadRequest)
	ErrInvalidContent    = NewErr("INVALID_CONTENT", "the specified content is invalid, or is the wrong length", http.StatusBadRequest)
	ErrInvalidPassword   = NewErr("INVALID_PASSWORD", "the specified password is invalid, or is the wrong length", http.StatusBadRequest)
	ErrAlreadyExists     = NewErr("ALREADY_EXISTS", "a paste with this URL already exists", http.StatusConflict)
	ErrNotFound          = NewErr("NOT_FOUND", "no paste with this URL has been found", http.StatusNotFound)
	ErrIncorrectPassword = NewErr("INCORRECT_PASSWORD", "the specified password is incorrect", http.StatusUnauthorized)
	ErrInvalidRequest    = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
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

// StorageErr reports a storage fault surfaced through the paste manager.
type StorageErr struct {
	Op  string
	Err error
}

func NewStorageErr(op string, err error) *StorageErr {
	return &StorageErr{Op: op, Err: err}
}

func (e *StorageErr) Error() string {
	if e.Err == nil {
		return "storage: " + e.Op
	}
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageErr) Unwrap() error { return e.Err }
func (e *StorageErr) Cause() error  { return e.Err }

func IsStorage(err error) bool {
	var se *StorageErr
	return errors.As(err, &se)
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func ToResp(err error) ErrResp {
	var e *Err
	if errors.As(err, &e) {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	if IsStorage(err) {
		return ErrResp{Error: ErrDetail{Code: "STORAGE_ERROR", Msg: "an error occurred while accessing paste storage"}}
	}
	return ErrResp{Error: ErrDetail{Code: ErrInternalServer.Code, Msg: ErrInternalServer.Msg}}
}

func Status(err error) int {
	var e *Err
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}
