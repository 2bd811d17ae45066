// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrQualityNotAllowed        = errors.New("quality not allowed for subscription tier")
	ErrConcurrencyLimitExceeded = errors.New("concurrent stream limit exceeded")
	ErrMissingMetric            = errors.New("missing required metric")
	ErrInvalidRequest           = errors.New("invalid request")
	ErrUnknownAction            = errors.New("unknown action")
	ErrStorageUnavailable       = errors.New("storage unavailable")
)

// RequestError is an error with a client-facing status and body.
// Fields are merged into the response body next to "error".
type RequestError struct {
	Err     error
	Status  int
	Message string
	Fields  map[string]interface{}

	cause error
}

func (e *RequestError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *RequestError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Err, e.cause}
	}
	return []error{e.Err}
}

// Body is the JSON response body for the error.
func (e *RequestError) Body() map[string]interface{} {
	body := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		body[k] = v
	}
	body["error"] = e.Message
	return body
}

func newRequestError(kind error, msg string, fields map[string]interface{}) *RequestError {
	return &RequestError{
		Err:     kind,
		Status:  statusFor(kind),
		Message: msg,
		Fields:  fields,
	}
}

func invalidRequest(format string, args ...interface{}) *RequestError {
	return newRequestError(ErrInvalidRequest, fmt.Sprintf(format, args...), nil)
}

// storageError marks a failed store or directory operation as retryable.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RequestError
	if errors.As(err, &re) && errors.Is(re.Err, ErrStorageUnavailable) {
		return err
	}
	return &RequestError{
		Err:     ErrStorageUnavailable,
		Status:  http.StatusServiceUnavailable,
		Message: "Storage unavailable",
		Fields:  map[string]interface{}{"operation": op, "retryable": true},
		cause:   err,
	}
}

func statusFor(kind error) int {
	switch {
	case errors.Is(kind, ErrQualityNotAllowed):
		return http.StatusForbidden
	case errors.Is(kind, ErrConcurrencyLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(kind, ErrMissingMetric), errors.Is(kind, ErrInvalidRequest), errors.Is(kind, ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(kind, ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// StatusCode maps any error returned by the quality manager to an HTTP status.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Status
	}
	return statusFor(err)
}
