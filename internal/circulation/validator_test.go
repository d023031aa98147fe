package circulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func last(kind EventKind, operator string) *LastMovement {
	return &LastMovement{
		Kind:       kind,
		DeviceID:   "73",
		OperatorID: operator,
		RecordedAt: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
	}
}

func TestCheckFields(t *testing.T) {
	cases := []struct {
		name     string
		kind     EventKind
		device   string
		operator string
		want     string
	}{
		{"operator without device", KindDeliver, "", "5501", "scan the collector before processing the movement"},
		{"nothing scanned", KindReportLost, "  ", "", "a collector id is required"},
		{"deliver without operator", KindDeliver, "73", "", "scan the operator badge before processing DELIVER"},
		{"return without operator", KindReturn, "73", " ", "scan the operator badge before processing RETURN"},
		{"repair without operator", KindSendForRepair, "73", "", "scan the operator badge before processing SEND_FOR_REPAIR"},
		{"repair return without operator", KindReturnFromRepair, "73", "", "scan the operator badge before processing RETURN_FROM_REPAIR"},
		{"lost without operator", KindReportLost, "73", "", ""},
		{"deactivate without operator", KindDeactivate, "73", "", ""},
		{"complete deliver", KindDeliver, "73", "5501", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckFields(tc.kind, tc.device, tc.operator)
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tc.want)
		})
	}
}

func TestCheckTransition(t *testing.T) {
	cases := []struct {
		name     string
		kind     EventKind
		operator string
		snap     Snapshot
		code     RejectionCode
	}{
		{"deliver fresh device", KindDeliver, "5501", Snapshot{}, ""},
		{"deliver returned device", KindDeliver, "5501", Snapshot{Last: last(KindReturn, "5501")}, ""},
		{"deliver device in use", KindDeliver, "5502", Snapshot{Last: last(KindDeliver, "5501")}, CodeDeviceInUse},
		{"deliver while holding another", KindDeliver, "5501", Snapshot{HeldByOperator: "80"}, CodeOperatorBusy},
		{"deliver lost device", KindDeliver, "5501", Snapshot{Last: last(KindReportLost, "")}, ""},
		{"deliver device in repair", KindDeliver, "5501", Snapshot{Last: last(KindSendForRepair, "5501")}, ""},

		{"return available device", KindReturn, "5501", Snapshot{}, CodeNotInUse},
		{"return after return", KindReturn, "5501", Snapshot{Last: last(KindReturn, "5501")}, CodeNotInUse},
		{"return by holder", KindReturn, "5501", Snapshot{Last: last(KindDeliver, "5501")}, ""},
		{"return by zero padded holder", KindReturn, "05501", Snapshot{Last: last(KindDeliver, "5501")}, ""},
		{"return by someone else", KindReturn, "5502", Snapshot{Last: last(KindDeliver, "5501")}, CodeWrongOperator},
		{"return lost device", KindReturn, "5501", Snapshot{Last: last(KindReportLost, "5501")}, CodeDeviceRetired},
		{"return inactive device", KindReturn, "5501", Snapshot{Last: last(KindDeactivate, "")}, CodeDeviceRetired},
		{"return device in repair", KindReturn, "5501", Snapshot{Last: last(KindSendForRepair, "5501")}, ""},

		{"repair available device", KindSendForRepair, "5501", Snapshot{}, ""},
		{"repair device in use", KindSendForRepair, "5501", Snapshot{Last: last(KindDeliver, "5501")}, CodeDeviceInUse},
		{"repair twice", KindSendForRepair, "5501", Snapshot{Last: last(KindSendForRepair, "5501")}, CodeAlreadyInRepair},
		{"repair lost device", KindSendForRepair, "5501", Snapshot{Last: last(KindReportLost, "")}, ""},

		{"back from repair", KindReturnFromRepair, "5501", Snapshot{Last: last(KindSendForRepair, "5501")}, ""},
		{"back from repair never sent", KindReturnFromRepair, "5501", Snapshot{}, CodeNotInRepair},
		{"back from repair while in use", KindReturnFromRepair, "5501", Snapshot{Last: last(KindDeliver, "5501")}, CodeNotInRepair},

		{"lose device in use", KindReportLost, "", Snapshot{Last: last(KindDeliver, "5501")}, ""},
		{"deactivate anything", KindDeactivate, "", Snapshot{Last: last(KindSendForRepair, "5501")}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckTransition(tc.kind, "73", tc.operator, tc.snap)
			if tc.code == "" {
				assert.NoError(t, err)
				return
			}
			rej, ok := AsRejection(err)
			require.True(t, ok, "expected a rejection, got %v", err)
			assert.Equal(t, tc.code, rej.Code)
		})
	}
}

func TestCheckTransitionMessages(t *testing.T) {
	err := CheckTransition(KindDeliver, "73", "5501", Snapshot{HeldByOperator: "80"})
	assert.EqualError(t, err, "5501 already holds collector 80; return it first")

	err = CheckTransition(KindReturn, "73", "5502", Snapshot{Last: last(KindDeliver, "5501")})
	assert.EqualError(t, err, "wrong operator: collector 73 is held by 5501")

	err = CheckTransition(KindReturn, "73", "5501", Snapshot{Last: last(KindReportLost, "")})
	assert.EqualError(t, err, "returning collector 73 that was reported lost")
}

func TestCheckTransitionOperatorHoldingSameDevice(t *testing.T) {
	// the holdings lookup may return the padded form of the same collector
	err := CheckTransition(KindDeliver, "73", "5501", Snapshot{HeldByOperator: "073", Last: last(KindDeliver, "5501")})
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodeDeviceInUse, rej.Code)
}

func TestValidate(t *testing.T) {
	err := Validate(KindReturn, "73", "", Snapshot{Last: last(KindDeliver, "5501")})
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodeMissingOperator, rej.Code)

	assert.NoError(t, Validate(KindReturn, "73", "5501", Snapshot{Last: last(KindDeliver, "5501")}))
}
