package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/relay_service/app"
	"github.com/aradsms/smsrelay/internal/relay_service/domain"
	"github.com/aradsms/smsrelay/internal/relay_service/gateway"
)

func pendingMessages(n int) []domain.OutboundMessage {
	out := make([]domain.OutboundMessage, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.OutboundMessage{
			ID:                 string(rune('a' + i)),
			SourceAddress:      "3000",
			DestinationAddress: "98912000000" + string(rune('0'+i)),
			Text:               "hello",
		})
	}
	return out
}

func acceptedOutcomes(batch []domain.MessageSendModel) []gateway.SendOutcome {
	out := make([]gateway.SendOutcome, 0, len(batch))
	for _, m := range batch {
		out = append(out, gateway.SendOutcome{
			CorrelationID: m.Udh,
			ReturnID:      "10020030040",
			Parts:         1,
			Accepted:      true,
		})
	}
	return out
}

func TestReadAndPostDisabled(t *testing.T) {
	settings := testSettings()
	settings.Message.EnableSend = false
	store := config.NewStore(settings)

	outbox := new(mockOutboxRepo)
	gw := new(mockGateway)
	svc := app.NewRelayService(store, gw, outbox, new(mockWhitelistRepo), app.NewAlertState(), testLogger())

	require.NoError(t, svc.ReadAndPost(context.Background()))
	outbox.AssertNotCalled(t, "FetchPending", mock.Anything, mock.Anything)
}

func TestReadAndPostOutsideWindow(t *testing.T) {
	settings := testSettings()
	// An unparsable bound closes the window.
	settings.Bulk = config.WindowSettings{Start: "bad", End: "also bad"}
	store := config.NewStore(settings)

	outbox := new(mockOutboxRepo)
	svc := app.NewRelayService(store, new(mockGateway), outbox, new(mockWhitelistRepo), app.NewAlertState(), testLogger())

	require.NoError(t, svc.ReadAndPost(context.Background()))
	outbox.AssertNotCalled(t, "FetchPending", mock.Anything, mock.Anything)
}

func TestReadAndPostEmptyQueue(t *testing.T) {
	store := config.NewStore(testSettings())
	outbox := new(mockOutboxRepo)
	outbox.On("FetchPending", mock.Anything, 200).Return(nil, nil).Once()

	svc := app.NewRelayService(store, new(mockGateway), outbox, new(mockWhitelistRepo), app.NewAlertState(), testLogger())
	require.NoError(t, svc.ReadAndPost(context.Background()))

	outbox.AssertExpectations(t)
	outbox.AssertNotCalled(t, "MarkSending", mock.Anything, mock.Anything)
}

func TestReadAndPostSuccessfulTick(t *testing.T) {
	store := config.NewStore(testSettings())

	outbox := new(mockOutboxRepo)
	outbox.On("FetchPending", mock.Anything, 200).Return(pendingMessages(3), nil).Once()
	outbox.On("MarkSending", mock.Anything, []string{"a", "b", "c"}).Return(nil).Once()
	outbox.On("UpdateAfterSend", mock.Anything, mock.MatchedBy(func(results []domain.SendResult) bool {
		return len(results) == 3 && results[0].Accepted
	})).Return(nil).Once()

	gw := new(mockGateway)
	gw.On("Send", mock.Anything, mock.MatchedBy(func(batch []domain.MessageSendModel) bool {
		return len(batch) == 3
	})).Return(acceptedOutcomes([]domain.MessageSendModel{{Udh: "a"}, {Udh: "b"}, {Udh: "c"}}), nil).Once()

	svc := app.NewRelayService(store, gw, outbox, new(mockWhitelistRepo), app.NewAlertState(), testLogger())
	require.NoError(t, svc.ReadAndPost(context.Background()))

	outbox.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestReadAndPostSplitsChunksAndDefersThrottled(t *testing.T) {
	settings := testSettings()
	settings.Message.BatchSize = 2
	store := config.NewStore(settings)

	outbox := new(mockOutboxRepo)
	outbox.On("FetchPending", mock.Anything, 200).Return(pendingMessages(3), nil).Once()
	outbox.On("MarkSending", mock.Anything, []string{"a", "b", "c"}).Return(nil).Once()
	// The full first chunk goes through.
	outbox.On("UpdateAfterSend", mock.Anything, mock.MatchedBy(func(results []domain.SendResult) bool {
		return len(results) == 2
	})).Return(nil).Once()
	// The throttled remainder is deferred, not failed.
	outbox.On("UpdateStatus", mock.Anything, []string{"c"}, "Stored").Return(nil).Once()

	gw := new(mockGateway)
	gw.On("Send", mock.Anything, mock.MatchedBy(func(batch []domain.MessageSendModel) bool {
		return len(batch) == 2
	})).Return(acceptedOutcomes([]domain.MessageSendModel{{Udh: "a"}, {Udh: "b"}}), nil).Once()
	gw.On("Send", mock.Anything, mock.MatchedBy(func(batch []domain.MessageSendModel) bool {
		return len(batch) == 1
	})).Return(nil, &gateway.Error{Kind: gateway.KindRateLimited, StatusCode: 429}).Once()

	svc := app.NewRelayService(store, gw, outbox, new(mockWhitelistRepo), app.NewAlertState(), testLogger())
	require.NoError(t, svc.ReadAndPost(context.Background()))

	outbox.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestReadAndPostWhitelistPartition(t *testing.T) {
	settings := testSettings()
	settings.Message.SendToWhiteList = true
	store := config.NewStore(settings)

	msgs := pendingMessages(5)
	allowed := map[string]struct{}{
		msgs[0].DestinationAddress: {},
		msgs[2].DestinationAddress: {},
		msgs[4].DestinationAddress: {},
	}

	whitelist := new(mockWhitelistRepo)
	whitelist.On("Allowed", mock.Anything, mock.MatchedBy(func(dests []string) bool {
		return len(dests) == 5
	})).Return(allowed, nil).Once()

	outbox := new(mockOutboxRepo)
	outbox.On("FetchPending", mock.Anything, 200).Return(msgs, nil).Once()
	outbox.On("UpdateStatus", mock.Anything, []string{"b", "d"}, "ErrorInSending").Return(nil).Once()
	outbox.On("MarkSending", mock.Anything, []string{"a", "c", "e"}).Return(nil).Once()
	outbox.On("UpdateAfterSend", mock.Anything, mock.Anything).Return(nil).Once()

	gw := new(mockGateway)
	gw.On("Send", mock.Anything, mock.MatchedBy(func(batch []domain.MessageSendModel) bool {
		return len(batch) == 3
	})).Return(acceptedOutcomes([]domain.MessageSendModel{{Udh: "a"}, {Udh: "c"}, {Udh: "e"}}), nil).Once()

	svc := app.NewRelayService(store, gw, outbox, whitelist, app.NewAlertState(), testLogger())
	require.NoError(t, svc.ReadAndPost(context.Background()))

	outbox.AssertExpectations(t)
	whitelist.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestReadAndPostAuthRetryOnce(t *testing.T) {
	store := config.NewStore(testSettings())

	outbox := new(mockOutboxRepo)
	outbox.On("FetchPending", mock.Anything, 200).Return(pendingMessages(1), nil).Once()
	outbox.On("MarkSending", mock.Anything, []string{"a"}).Return(nil).Once()
	outbox.On("UpdateAfterSend", mock.Anything, mock.Anything).Return(nil).Once()

	gw := new(mockGateway)
	gw.On("UsingAPIKey").Return(false)
	gw.On("Send", mock.Anything, mock.Anything).
		Return(nil, &gateway.Error{Kind: gateway.KindAuthFailure, StatusCode: 401}).Once()
	gw.On("Authenticate", mock.Anything).Return(nil).Once()
	gw.On("Send", mock.Anything, mock.Anything).
		Return(acceptedOutcomes([]domain.MessageSendModel{{Udh: "a"}}), nil).Once()

	svc := app.NewRelayService(store, gw, outbox, new(mockWhitelistRepo), app.NewAlertState(), testLogger())
	require.NoError(t, svc.ReadAndPost(context.Background()))

	gw.AssertExpectations(t)
	outbox.AssertExpectations(t)
}

func TestReadAndPostAuthFailureWithAPIKeyFails(t *testing.T) {
	store := config.NewStore(testSettings())

	outbox := new(mockOutboxRepo)
	outbox.On("FetchPending", mock.Anything, 200).Return(pendingMessages(1), nil).Once()
	outbox.On("MarkSending", mock.Anything, []string{"a"}).Return(nil).Once()
	outbox.On("UpdateStatus", mock.Anything, []string{"a"}, "ErrorInSending").Return(nil).Once()

	gw := new(mockGateway)
	gw.On("UsingAPIKey").Return(true)
	gw.On("Send", mock.Anything, mock.Anything).
		Return(nil, &gateway.Error{Kind: gateway.KindAuthFailure, StatusCode: 401}).Once()

	svc := app.NewRelayService(store, gw, outbox, new(mockWhitelistRepo), app.NewAlertState(), testLogger())
	require.NoError(t, svc.ReadAndPost(context.Background()))

	gw.AssertNotCalled(t, "Authenticate", mock.Anything)
	outbox.AssertExpectations(t)
}

func TestReadAndPostUnreachableRecordsError(t *testing.T) {
	store := config.NewStore(testSettings())
	alerts := app.NewAlertState()

	outbox := new(mockOutboxRepo)
	outbox.On("FetchPending", mock.Anything, 200).Return(pendingMessages(1), nil).Once()
	outbox.On("MarkSending", mock.Anything, []string{"a"}).Return(nil).Once()
	outbox.On("UpdateStatus", mock.Anything, []string{"a"}, "Stored").Return(nil).Once()

	gw := new(mockGateway)
	gw.On("Send", mock.Anything, mock.Anything).
		Return(nil, &gateway.Error{Kind: gateway.KindUnreachable, Message: "connection refused"}).Once()

	svc := app.NewRelayService(store, gw, outbox, new(mockWhitelistRepo), alerts, testLogger())
	require.NoError(t, svc.ReadAndPost(context.Background()))

	assert.Equal(t, 1, alerts.Count())
	assert.Contains(t, alerts.LastMessage(), "relay-test")
	outbox.AssertExpectations(t)
}
