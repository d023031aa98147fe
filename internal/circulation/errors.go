// internal/circulation/errors.go
package circulation

import (
	"errors"
	"fmt"
)

// ErrInfrastructure marks failures of the log store: unreachable database,
// failed query, commit error or timeout. Callers may retry the whole request
// since appends are atomic.
var ErrInfrastructure = errors.New("movement store unavailable")

// RejectionCode classifies business rejections.
type RejectionCode string

const (
	CodeUnknownAction   RejectionCode = "unknown_action"
	CodeMissingDevice   RejectionCode = "missing_device"
	CodeMissingOperator RejectionCode = "missing_operator"
	CodeInvalidInput    RejectionCode = "invalid_input"
	CodeOperatorBusy    RejectionCode = "operator_holds_device"
	CodeDeviceInUse     RejectionCode = "device_in_use"
	CodeNotInUse        RejectionCode = "device_not_in_use"
	CodeDeviceRetired   RejectionCode = "device_lost_or_inactive"
	CodeWrongOperator   RejectionCode = "wrong_operator"
	CodeAlreadyInRepair RejectionCode = "already_in_repair"
	CodeNotInRepair     RejectionCode = "not_in_repair"
)

// Rejection is a business rule refusal. Reason is shown verbatim to the
// operator.
type Rejection struct {
	Code   RejectionCode `json:"code"`
	Reason string        `json:"reason"`
}

func (r *Rejection) Error() string { return r.Reason }

func reject(code RejectionCode, reason string) *Rejection {
	return &Rejection{Code: code, Reason: reason}
}

func rejectf(code RejectionCode, format string, args ...interface{}) *Rejection {
	return &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// AsRejection extracts a rejection from an error chain.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// RetryMessage is shown for every non business failure. The cause is logged,
// never shown.
const RetryMessage = "movement could not be recorded, try again"

// Outcome flattens a Process result into the (ok, message) pair shown by
// operator screens.
func Outcome(c Confirmation, err error) (bool, string) {
	if err == nil {
		return true, c.Message
	}
	if r, ok := AsRejection(err); ok {
		return false, r.Reason
	}
	return false, RetryMessage
}
