package app

// Process exit codes. Gate outcomes get their own codes so callers can
// distinguish "needs another editing pass" from "audit rejected it" without
// parsing output.
const (
	ExitOK             = 0
	ExitFatal          = 1
	ExitRevisionNeeded = 2
	ExitQCFailed       = 3
)

// ExitError carries a specific process exit code up through cobra
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string {
	return e.Msg
}

func NewExitError(code int, msg string) *ExitError {
	return &ExitError{Code: code, Msg: msg}
}
