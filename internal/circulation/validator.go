// internal/circulation/validator.go
package circulation

import "strings"

// Snapshot is the part of the log the transition rules look at, read inside
// the same locked transaction that will append the movement.
type Snapshot struct {
	// Last is the latest movement of the device, nil when it has no history.
	Last *LastMovement
	// HeldByOperator is the device the submitting operator currently holds,
	// empty when none. Only looked up for deliveries.
	HeldByOperator string
}

// Validate runs the field presence check and then the transition rules.
// It never touches the store.
func Validate(kind EventKind, deviceID, operatorID string, snap Snapshot) error {
	if err := CheckFields(kind, deviceID, operatorID); err != nil {
		return err
	}
	return CheckTransition(kind, deviceID, operatorID, snap)
}

// CheckFields verifies that the badges required by the kind were scanned.
func CheckFields(kind EventKind, deviceID, operatorID string) error {
	deviceID = strings.TrimSpace(deviceID)
	operatorID = strings.TrimSpace(operatorID)

	if deviceID == "" {
		if operatorID != "" {
			return reject(CodeMissingDevice, "scan the collector before processing the movement")
		}
		return reject(CodeMissingDevice, "a collector id is required")
	}
	if operatorID == "" && kind.RequiresOperator() {
		return rejectf(CodeMissingOperator, "scan the operator badge before processing %s", kind)
	}
	return nil
}

// CheckTransition decides whether kind is legal given the derived state of
// the device.
func CheckTransition(kind EventKind, deviceID, operatorID string, snap Snapshot) error {
	state := Derive(deviceID, snap.Last)

	switch kind {
	case KindDeliver:
		if operatorID != "" && snap.HeldByOperator != "" && Normalize(snap.HeldByOperator) != Normalize(deviceID) {
			return rejectf(CodeOperatorBusy, "%s already holds collector %s; return it first", operatorID, snap.HeldByOperator)
		}
		if state.Status == StatusInUse {
			return rejectf(CodeDeviceInUse, "collector %s is already in use by %s; return it first", deviceID, state.Holder)
		}

	case KindReturn:
		switch state.Status {
		case StatusAvailable:
			return rejectf(CodeNotInUse, "collector %s is not in use; deliver it first", deviceID)
		case StatusLost, StatusInactive:
			if operatorID != "" {
				return rejectf(CodeDeviceRetired, "returning collector %s that was %s", deviceID, describe(state.Status))
			}
		case StatusInUse:
			if operatorID != "" && state.Holder != "" && Normalize(operatorID) != Normalize(state.Holder) {
				return rejectf(CodeWrongOperator, "wrong operator: collector %s is held by %s", deviceID, state.Holder)
			}
		}

	case KindSendForRepair:
		switch state.Status {
		case StatusInUse:
			return rejectf(CodeDeviceInUse, "collector %s is in use by %s; return it first", deviceID, state.Holder)
		case StatusInRepair:
			return rejectf(CodeAlreadyInRepair, "collector %s is already in repair; use return from repair", deviceID)
		}

	case KindReturnFromRepair:
		if state.Status != StatusInRepair {
			return rejectf(CodeNotInRepair, "collector %s was never sent for repair; send it first", deviceID)
		}

	case KindReportLost, KindDeactivate:
		// no precondition
	}
	return nil
}

func describe(s Status) string {
	switch s {
	case StatusLost:
		return "reported lost"
	case StatusInactive:
		return "deactivated"
	}
	return strings.ToLower(string(s))
}
