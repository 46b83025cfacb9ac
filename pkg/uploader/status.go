package uploader

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Status classifies the outcome of one upload attempt.
type Status int32

const (
	StatusOK Status = iota
	// StatusHTTPCodeNotOK: the collector answered with a code other than 200.
	StatusHTTPCodeNotOK
	// StatusException: transport failure (timeout, refused, DNS, TLS...).
	StatusException
	// StatusInvalidJSON: the response body is not JSON.
	StatusInvalidJSON
	// StatusInvalidResponse: the response is JSON but not an object.
	StatusInvalidResponse
	// StatusResponseStatusNotOK: the response status field is missing or not "ok".
	StatusResponseStatusNotOK
	// StatusDiscarded: the compressed buffer exceeded the size limit and was dropped.
	StatusDiscarded
	// StatusEncodeFailed: the buffer could not be serialized and was dropped.
	StatusEncodeFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusHTTPCodeNotOK:
		return "http_code_not_ok"
	case StatusException:
		return "exception"
	case StatusInvalidJSON:
		return "invalid_json"
	case StatusInvalidResponse:
		return "invalid_response"
	case StatusResponseStatusNotOK:
		return "response_status_not_ok"
	case StatusDiscarded:
		return "discarded"
	case StatusEncodeFailed:
		return "encode_failed"
	default:
		return "unknown"
	}
}

// Reporter logs upload errors at error level, skipping an error whose status
// equals the previously reported one when suppression is enabled. The
// remembered status is updated on every call.
type Reporter struct {
	log      *zap.Logger
	suppress bool
	last     atomic.Int32
}

func NewReporter(log *zap.Logger, suppressRepeated bool) *Reporter {
	return &Reporter{log: log, suppress: suppressRepeated}
}

// Report logs msg unless it repeats the last reported status. Returns
// whether a line was written.
func (r *Reporter) Report(status Status, msg string, fields ...zap.Field) bool {
	previous := Status(r.last.Swap(int32(status)))
	if r.suppress && previous == status {
		return false
	}
	r.log.Error(msg, append(fields, zap.Stringer("status", status))...)
	return true
}

// Reset marks a successful upload, so the next error is always logged.
func (r *Reporter) Reset() {
	r.last.Store(int32(StatusOK))
}

// Last returns the most recently reported status.
func (r *Reporter) Last() Status {
	return Status(r.last.Load())
}
