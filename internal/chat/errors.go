package chat

import "errors"

// ErrValidation is wrapped by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError reports a missing or invalid request field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return ErrValidation }

var (
	// ErrConversationEnded is returned when writing to an ended conversation
	// or ending it twice.
	ErrConversationEnded = &ValidationError{Field: "conversation_id", Msg: "conversation has already ended"}
	// ErrParentMismatch is returned when a reply's parent lives in another conversation.
	ErrParentMismatch = &ValidationError{Field: "parent_message_id", Msg: "parent message belongs to a different conversation"}
)

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}
