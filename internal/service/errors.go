package service

// ErrorKind classifies a service failure for the transport layer.
type ErrorKind int

const (
	KindAccessDenied ErrorKind = iota
	KindNotFound
	KindInvalidRequest
)

// Error is a caller-facing failure with a human-readable message. Anything
// not wrapped in Error is an internal error and maps to 500.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

func accessDenied(msg string) *Error   { return &Error{Kind: KindAccessDenied, Message: msg} }
func notFound(msg string) *Error       { return &Error{Kind: KindNotFound, Message: msg} }
func invalidRequest(msg string) *Error { return &Error{Kind: KindInvalidRequest, Message: msg} }
