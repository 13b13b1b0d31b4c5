package shared

// DomainError is an error carrying a stable code that outer layers map onto
// their own error codes
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// ErrLockNotObtained is returned when a KeyLocker gives up before the key is free
var ErrLockNotObtained = NewDomainError("LOCK_NOT_OBTAINED", "could not obtain key lock")
