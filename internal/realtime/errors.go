package realtime

import "fmt"

// Category groups action errors so clients can tell "retry" from "gone" from "not allowed".
type Category string

const (
	CategoryNotFound      Category = "not_found"
	CategoryPrecondition  Category = "precondition_failed"
	CategoryAuthorization Category = "authorization_failed"
	CategoryStoreFailure  Category = "store_failure"
	CategoryInvalid       Category = "invalid_request"
	CategoryInternal      Category = "internal"
)

// Stable error codes.
const (
	CodeRoomNotFound     = "ROOM_NOT_FOUND"
	CodeUserNotFound     = "USER_NOT_FOUND"
	CodeQuestionNotFound = "QUESTION_NOT_FOUND"
	CodeRoomInactive     = "ROOM_INACTIVE"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeStoreFailure     = "STORE_FAILURE"
	CodeInvalidPayload   = "INVALID_PAYLOAD"
	CodeUnknownEvent     = "UNKNOWN_EVENT"
	CodeInternal         = "INTERNAL"
)

// ActionError is a rejected action. It is turned into exactly one addressed error event.
type ActionError struct {
	Code     string
	Category Category
	Message  string
	Err      error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *ActionError) Unwrap() error { return e.Err }

// Payload returns the client-facing form of e. The wrapped cause is never exposed.
func (e *ActionError) Payload() ErrorPayload {
	return ErrorPayload{Code: e.Code, Category: e.Category, Message: e.Message}
}

func errRoomNotFound() *ActionError {
	return &ActionError{Code: CodeRoomNotFound, Category: CategoryNotFound, Message: "room not found"}
}

func errRoomInactive(msg string) *ActionError {
	return &ActionError{Code: CodeRoomInactive, Category: CategoryPrecondition, Message: msg}
}

func errUserNotFound() *ActionError {
	return &ActionError{Code: CodeUserNotFound, Category: CategoryNotFound, Message: "user not found"}
}

func errQuestionNotFound() *ActionError {
	return &ActionError{Code: CodeQuestionNotFound, Category: CategoryNotFound, Message: "question not found"}
}

func errUnauthorized(msg string) *ActionError {
	return &ActionError{Code: CodeUnauthorized, Category: CategoryAuthorization, Message: msg}
}

func errStore(msg string, err error) *ActionError {
	return &ActionError{Code: CodeStoreFailure, Category: CategoryStoreFailure, Message: msg, Err: err}
}

func errInvalid(msg string, err error) *ActionError {
	return &ActionError{Code: CodeInvalidPayload, Category: CategoryInvalid, Message: msg, Err: err}
}

func errInternal(err error) *ActionError {
	return &ActionError{Code: CodeInternal, Category: CategoryInternal, Message: "internal error, please retry", Err: err}
}
