package dto

import "time"

// Response is the envelope of every control API reply
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes a failed request
type ErrorInfo struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSuccessResponse wraps data
func NewSuccessResponse(data any) Response {
	return Response{Success: true, Data: data}
}

// NewErrorResponse builds a failure with a normalized code
func NewErrorResponse(code, message string) Response {
	return NewErrorResponseWithData(code, message, "", nil)
}

// NewErrorResponseWithRequestID builds a failure tagged with the request ID
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	return NewErrorResponseWithData(code, message, requestID, nil)
}

// NewErrorResponseWithData builds a failure that still carries a payload,
// such as the partial report of a failed stage run
func NewErrorResponseWithData(code, message, requestID string, data any) Response {
	return Response{
		Data: data,
		Error: &ErrorInfo{
			Code:      NormalizeErrorCode(code),
			Message:   message,
			RequestID: requestID,
			Timestamp: time.Now(),
		},
	}
}
