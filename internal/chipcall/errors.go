package chipcall

import (
	"errors"
	"fmt"
)

// Code classifies every failure the engine can hand back to a client.
// The wire form is the code followed by a human-readable message,
// e.g. "INVALID_TURN: it is not your turn".
type Code string

const (
	CodeValidation       Code = "VALIDATION"
	CodeInvalidState     Code = "INVALID_STATE"
	CodeInvalidTurn      Code = "INVALID_TURN"
	CodeTokenUnavailable Code = "TOKEN_UNAVAILABLE"
	CodeNoTokenHeld      Code = "NO_TOKEN_HELD"
	CodeCannotAdvance    Code = "CANNOT_ADVANCE"
	CodeNotFound         Code = "NOT_FOUND"
	CodeRoomFull         Code = "ROOM_FULL"
	CodeNotEnoughPlayers Code = "NOT_ENOUGH_PLAYERS"
	CodePersistence      Code = "PERSISTENCE"
)

type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func Errf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the classification from any error. Errors that did not
// come out of the engine report as VALIDATION so a malformed request never
// masquerades as an internal failure.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeValidation
}
