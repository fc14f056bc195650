package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/relay_service/app"
	"github.com/aradsms/smsrelay/internal/relay_service/domain"
	"github.com/aradsms/smsrelay/internal/relay_service/gateway"
)

func alertSettings() *config.Settings {
	settings := testSettings()
	settings.Alert = config.AlertSettings{
		SourceAddress:      "3000",
		DestinationAddress: "989121111111,989122222222",
		ErrorCount:         2,
		QueueCount:         100,
	}
	return settings
}

func recordErrors(state *app.AlertState, n int) {
	for i := 0; i < n; i++ {
		state.Record("relay-test", errors.New("db connection lost"))
	}
}

func TestCheckErrorsBelowThreshold(t *testing.T) {
	store := config.NewStore(alertSettings())
	state := app.NewAlertState()
	recordErrors(state, 2) // threshold is "more than", 2 is not enough

	gw := new(mockGateway)
	svc := app.NewAlertService(store, gw, new(mockOutboxRepo), state, testLogger())

	require.NoError(t, svc.CheckErrors(context.Background()))
	gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestCheckErrorsSendsAndResets(t *testing.T) {
	store := config.NewStore(alertSettings())
	state := app.NewAlertState()
	recordErrors(state, 3)

	gw := new(mockGateway)
	gw.On("UsingAPIKey").Return(true)
	gw.On("Send", mock.Anything, mock.MatchedBy(func(batch []domain.MessageSendModel) bool {
		return len(batch) == 2 &&
			batch[0].DestinationAddress == "989121111111" &&
			batch[1].DestinationAddress == "989122222222"
	})).Return(nil, nil).Once()

	svc := app.NewAlertService(store, gw, new(mockOutboxRepo), state, testLogger())
	require.NoError(t, svc.CheckErrors(context.Background()))

	assert.Equal(t, 0, state.Count())
	gw.AssertExpectations(t)
}

func TestCheckErrorsFailedSendKeepsCounter(t *testing.T) {
	store := config.NewStore(alertSettings())
	state := app.NewAlertState()
	recordErrors(state, 3)

	gw := new(mockGateway)
	gw.On("UsingAPIKey").Return(true)
	gw.On("Send", mock.Anything, mock.Anything).
		Return(nil, &gateway.Error{Kind: gateway.KindUnreachable, Message: "connection refused"}).Once()

	svc := app.NewAlertService(store, gw, new(mockOutboxRepo), state, testLogger())
	require.Error(t, svc.CheckErrors(context.Background()))

	// The condition stays armed until an alert actually goes out.
	assert.Equal(t, 3, state.Count())
}

func TestCheckErrorsBearerModeRefreshesFirst(t *testing.T) {
	store := config.NewStore(alertSettings())
	state := app.NewAlertState()
	recordErrors(state, 3)

	gw := new(mockGateway)
	gw.On("UsingAPIKey").Return(false)
	gw.On("Authenticate", mock.Anything).Return(nil).Once()
	gw.On("Send", mock.Anything, mock.Anything).Return(nil, nil).Once()

	svc := app.NewAlertService(store, gw, new(mockOutboxRepo), state, testLogger())
	require.NoError(t, svc.CheckErrors(context.Background()))

	gw.AssertExpectations(t)
}

func TestCheckQueueDepthBelowLimit(t *testing.T) {
	store := config.NewStore(alertSettings())

	outbox := new(mockOutboxRepo)
	outbox.On("CountPending", mock.Anything).Return(50, nil).Once()

	gw := new(mockGateway)
	svc := app.NewAlertService(store, gw, outbox, app.NewAlertState(), testLogger())

	require.NoError(t, svc.CheckQueueDepth(context.Background()))
	gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestCheckQueueDepthAlerts(t *testing.T) {
	store := config.NewStore(alertSettings())
	state := app.NewAlertState()
	recordErrors(state, 1)

	outbox := new(mockOutboxRepo)
	outbox.On("CountPending", mock.Anything).Return(5000, nil).Once()

	gw := new(mockGateway)
	gw.On("UsingAPIKey").Return(true)
	gw.On("Send", mock.Anything, mock.Anything).Return(nil, nil).Once()

	svc := app.NewAlertService(store, gw, outbox, state, testLogger())
	require.NoError(t, svc.CheckQueueDepth(context.Background()))

	// A queue-depth alert must not clear the error counter.
	assert.Equal(t, 1, state.Count())
	gw.AssertExpectations(t)
}

func TestAlertsWithoutDestinationsAreSkipped(t *testing.T) {
	settings := alertSettings()
	settings.Alert.DestinationAddress = ""
	store := config.NewStore(settings)
	state := app.NewAlertState()
	recordErrors(state, 3)

	gw := new(mockGateway)
	svc := app.NewAlertService(store, gw, new(mockOutboxRepo), state, testLogger())

	require.NoError(t, svc.CheckErrors(context.Background()))
	gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}
