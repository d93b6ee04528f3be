package orders

import "github.com/posedge/edge/pkg/types"

// CommandError is the structured failure the command processor and
// orders manager return; code is the closed, wire-stable set from
// types.CommandErrorCode.
type CommandError struct {
	Code    types.CommandErrorCode
	Message string
}

func (e *CommandError) Error() string {
	return e.Code.String() + ": " + e.Message
}

func newCommandError(code types.CommandErrorCode, message string) *CommandError {
	return &CommandError{Code: code, Message: message}
}
