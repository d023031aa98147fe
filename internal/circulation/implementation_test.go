package circulation_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"collectortrack/internal/circulation"
	"collectortrack/internal/eventstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupService(t *testing.T) (circulation.Service, *eventstore.EventStore) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	store, err := eventstore.Open(context.Background(), eventstore.Config{
		Driver: eventstore.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "movements.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	return circulation.NewService(store, logger), store
}

func request(action, device, operator string) circulation.Request {
	return circulation.Request{
		Action:           action,
		DeviceID:         device,
		OperatorID:       operator,
		ResponsibleParty: "supervisor",
	}
}

func requireRejection(t *testing.T, err error, code circulation.RejectionCode) {
	t.Helper()
	rej, ok := circulation.AsRejection(err)
	require.True(t, ok, "expected rejection %s, got %v", code, err)
	assert.Equal(t, code, rej.Code)
	assert.False(t, errors.Is(err, circulation.ErrInfrastructure))
}

func TestDeliverThenReturnAcrossSpellings(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	conf, err := svc.Process(ctx, request("Entrega Início operação", "73", "joao.silva"))
	require.NoError(t, err)
	assert.Equal(t, "movement recorded successfully", conf.Message)
	assert.Equal(t, "DELIVER", conf.Kind)
	assert.Equal(t, circulation.StatusInUse, conf.State.Status)

	state, err := svc.ResolveStatus(ctx, "73")
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusInUse, state.Status)
	assert.Equal(t, "joao.silva", state.Holder)

	_, err = svc.Process(ctx, request("Devolução término operação", "073", "joao.silva"))
	require.NoError(t, err)

	state, err = svc.ResolveStatus(ctx, "000073")
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusAvailable, state.Status)
	assert.Empty(t, state.Holder)
	assert.Equal(t, "RETURN", state.LastKind)
}

func TestEmptyHistoryIsAvailable(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	state, err := svc.ResolveStatus(ctx, "55")
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusAvailable, state.Status)
	assert.Nil(t, state.LastRecordedAt)

	_, err = svc.Process(ctx, request("RETURN", "55", "joao.silva"))
	requireRejection(t, err, circulation.CodeNotInUse)
	_, err = svc.Process(ctx, request("RETURN_FROM_REPAIR", "55", "joao.silva"))
	requireRejection(t, err, circulation.CodeNotInRepair)

	_, err = svc.Process(ctx, request("SEND_FOR_REPAIR", "55", "joao.silva"))
	require.NoError(t, err)
}

func TestReturnByWrongOperator(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Process(ctx, request("ENTREGA", "73", "joao.silva"))
	require.NoError(t, err)

	_, err = svc.Process(ctx, request("DEVOLUCAO", "73", "maria.souza"))
	requireRejection(t, err, circulation.CodeWrongOperator)
	assert.EqualError(t, err, "wrong operator: collector 73 is held by joao.silva")

	_, err = svc.Process(ctx, request("DEVOLUCAO", "73", "joao.silva"))
	require.NoError(t, err)
}

func TestRepairCycle(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	req := request("Envio para conserto", "73", "joao.silva")
	req.RepairSentDate = "2025-03-10"
	req.TicketNumber = "T-991"
	_, err := svc.Process(ctx, req)
	require.NoError(t, err)

	_, err = svc.Process(ctx, request("Envio para conserto", "73", "joao.silva"))
	requireRejection(t, err, circulation.CodeAlreadyInRepair)

	_, err = svc.Process(ctx, request("ENTREGA", "80", "joao.silva"))
	require.NoError(t, err)

	back := request("Retorno do conserto", "73", "joao.silva")
	back.RepairReturnDate = "2025-03-20"
	conf, err := svc.Process(ctx, back)
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusAvailable, conf.State.Status)
}

func TestOperatorHoldingAnotherDevice(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Process(ctx, request("ENTREGA", "73", "joao.silva"))
	require.NoError(t, err)

	_, err = svc.Process(ctx, request("ENTREGA", "80", "joao.silva"))
	requireRejection(t, err, circulation.CodeOperatorBusy)

	_, err = svc.Process(ctx, request("ENTREGA", "73", "maria.souza"))
	requireRejection(t, err, circulation.CodeDeviceInUse)
}

func TestLostAndInactiveDevices(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Process(ctx, request("ENTREGA", "73", "joao.silva"))
	require.NoError(t, err)

	conf, err := svc.Process(ctx, request("Extravio", "73", ""))
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusLost, conf.State.Status)

	_, err = svc.Process(ctx, request("DEVOLUCAO", "73", "joao.silva"))
	requireRejection(t, err, circulation.CodeDeviceRetired)

	conf, err = svc.Process(ctx, request("Inativo", "73", ""))
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusInactive, conf.State.Status)

	// a retired collector may be put back into service
	_, err = svc.Process(ctx, request("ENTREGA", "73", "maria.souza"))
	require.NoError(t, err)
}

func TestProcessRejectsBadInput(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  circulation.Request
		code circulation.RejectionCode
	}{
		{"unknown action", request("Emprestimo", "73", "joao.silva"), circulation.CodeUnknownAction},
		{"missing device", request("ENTREGA", "", "joao.silva"), circulation.CodeMissingDevice},
		{"missing operator", request("ENTREGA", "73", ""), circulation.CodeMissingOperator},
		{"missing responsible", circulation.Request{Action: "ENTREGA", DeviceID: "73", OperatorID: "joao.silva"}, circulation.CodeInvalidInput},
		{"bad date", func() circulation.Request {
			r := request("ENVIO", "73", "joao.silva")
			r.RepairSentDate = "2025-02-30"
			return r
		}(), circulation.CodeInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Process(ctx, tc.req)
			requireRejection(t, err, tc.code)
		})
	}

	history, err := store.History(ctx, "73")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDefectsAreRecordedWithTheMovement(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	req := request("ENVIO", "73", "joao.silva")
	req.DefectDetected = true
	req.Defects = []string{"03 - Broken screen", "07 - Battery"}
	conf, err := svc.Process(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, conf.Defects)

	defects, err := store.DefectsOf(ctx, conf.MovementID.String())
	require.NoError(t, err)
	require.Len(t, defects, 2)
	for _, d := range defects {
		assert.Equal(t, "73", d.DeviceID)
		assert.Equal(t, circulation.KindSendForRepair, d.Kind)
		assert.Equal(t, "supervisor", d.ResponsibleParty)
	}

	// choices without the detected flag are ignored
	req = request("RETORNO", "73", "joao.silva")
	req.Defects = []string{"03 - Broken screen"}
	conf, err = svc.Process(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, conf.Defects)
}

func TestInvalidDefectChoiceWritesNothing(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	req := request("ENVIO", "73", "joao.silva")
	req.DefectDetected = true
	req.Defects = []string{"03 - Broken screen", " - "}
	_, err := svc.Process(ctx, req)
	requireRejection(t, err, circulation.CodeInvalidInput)

	history, err := store.History(ctx, "73")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestConcurrentDeliveriesRecordOne(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	const operators = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
		start    = make(chan struct{})
	)
	for i := 0; i < operators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := svc.Process(ctx, request("ENTREGA", "73", fmt.Sprintf("operator-%d", i)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			if _, isRejection := circulation.AsRejection(err); isRejection {
				rejected++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, operators-1, rejected)

	keys, err := store.DoubleDeliveries(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestTotalsCoverEveryStatus(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	for _, id := range []string{"73", "073", "80", "81", "82"} {
		require.NoError(t, store.RegisterDevice(ctx, circulation.DeviceInfo{DeviceID: id, SerialNumber: "SN-" + id}))
	}
	_, err := svc.Process(ctx, request("ENTREGA", "73", "joao.silva"))
	require.NoError(t, err)
	_, err = svc.Process(ctx, request("ENVIO", "80", "joao.silva"))
	require.NoError(t, err)

	totals, err := svc.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, circulation.Totals{
		circulation.StatusInUse:     1,
		circulation.StatusAvailable: 2,
		circulation.StatusInRepair:  1,
		circulation.StatusLost:      0,
		circulation.StatusInactive:  0,
	}, totals)
}

func TestDirectoryLookups(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	require.NoError(t, store.RegisterDevice(ctx, circulation.DeviceInfo{DeviceID: "73", SerialNumber: "SN-0073"}))
	require.NoError(t, store.RegisterOperator(ctx, circulation.OperatorInfo{OperatorID: "joao.silva", FullName: "Joao Silva"}, true))
	require.NoError(t, store.PutDefectCode(ctx, circulation.DefectCode{Code: 3, Description: "Broken screen"}))

	device, err := svc.DescribeDevice(ctx, " 73 ")
	require.NoError(t, err)
	assert.Equal(t, "SN-0073", device.SerialNumber)

	_, err = svc.DescribeDevice(ctx, "99")
	assert.ErrorIs(t, err, circulation.ErrNotFound)

	operator, err := svc.DescribeOperator(ctx, "joao.silva")
	require.NoError(t, err)
	assert.Equal(t, "Joao Silva", operator.FullName)

	choices, err := svc.DefectChoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"03 - Broken screen"}, choices)
}

func TestInfrastructureFailureIsNotARejection(t *testing.T) {
	svc, store := setupService(t)
	require.NoError(t, store.Close())

	_, err := svc.Process(context.Background(), request("ENTREGA", "73", "joao.silva"))
	require.Error(t, err)
	assert.ErrorIs(t, err, circulation.ErrInfrastructure)
	_, isRejection := circulation.AsRejection(err)
	assert.False(t, isRejection)

	_, err = svc.ResolveStatus(context.Background(), "73")
	assert.ErrorIs(t, err, circulation.ErrInfrastructure)
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *recordingMetrics) ObserveProcess(kind, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, kind+":"+outcome)
}

func TestProcessReportsOutcomes(t *testing.T) {
	_, store := setupService(t)
	metrics := &recordingMetrics{}
	svc := circulation.NewService(store, zaptest.NewLogger(t), circulation.WithMetrics(metrics))
	ctx := context.Background()

	_, _ = svc.Process(ctx, request("ENTREGA", "73", "joao.silva"))
	_, _ = svc.Process(ctx, request("ENTREGA", "73", "maria.souza"))
	_, _ = svc.Process(ctx, request("nonsense", "73", "maria.souza"))

	assert.Equal(t, []string{
		"DELIVER:recorded",
		"DELIVER:rejected",
		"unknown:rejected",
	}, metrics.outcomes)
}
