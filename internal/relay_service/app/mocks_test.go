package app_test

import (
	"context"
	"io"
	"time"

	"log/slog"

	"github.com/stretchr/testify/mock"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/platform/database"
	"github.com/aradsms/smsrelay/internal/relay_service/domain"
	"github.com/aradsms/smsrelay/internal/relay_service/gateway"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testSettings returns a snapshot with sending fully enabled and an
// always-open window.
func testSettings() *config.Settings {
	return &config.Settings{
		ServiceName: "relay-test",
		DB: config.DBSettings{
			OutboxTableName:      "outbox",
			StatusForSuccessSend: "Sent",
			StatusForFailedSend:  "ErrorInSending",
			StatusForStored:      "Stored",
		},
		Message: config.MessageSettings{
			BatchSize:    100,
			TPS:          200,
			EnableSend:   true,
			EnableGetDLR: true,
			EnableGetMO:  true,
		},
		Bulk: config.WindowSettings{Start: "00:00:01", End: "23:59:59"},
	}
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Authenticate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockGateway) Send(ctx context.Context, batch []domain.MessageSendModel) ([]gateway.SendOutcome, error) {
	args := m.Called(ctx, batch)
	if out := args.Get(0); out != nil {
		return out.([]gateway.SendOutcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) GetDLR(ctx context.Context, ids []string) ([]domain.DlrStatus, error) {
	args := m.Called(ctx, ids)
	if out := args.Get(0); out != nil {
		return out.([]domain.DlrStatus), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) GetMO(ctx context.Context) ([]domain.MoDto, error) {
	args := m.Called(ctx)
	if out := args.Get(0); out != nil {
		return out.([]domain.MoDto), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) UsingAPIKey() bool {
	return m.Called().Bool(0)
}

type mockOutboxRepo struct {
	mock.Mock
}

func (m *mockOutboxRepo) FetchPending(ctx context.Context, limit int) ([]domain.OutboundMessage, error) {
	args := m.Called(ctx, limit)
	if out := args.Get(0); out != nil {
		return out.([]domain.OutboundMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOutboxRepo) MarkSending(ctx context.Context, ids []string) error {
	return m.Called(ctx, ids).Error(0)
}

func (m *mockOutboxRepo) UpdateStatus(ctx context.Context, ids []string, status string) error {
	return m.Called(ctx, ids, status).Error(0)
}

func (m *mockOutboxRepo) UpdateAfterSend(ctx context.Context, results []domain.SendResult) error {
	return m.Called(ctx, results).Error(0)
}

func (m *mockOutboxRepo) UpdateDelivery(ctx context.Context, records []domain.DlrRecord) error {
	return m.Called(ctx, records).Error(0)
}

func (m *mockOutboxRepo) FetchDlrCandidates(ctx context.Context, offset int) ([]string, error) {
	args := m.Called(ctx, offset)
	if out := args.Get(0); out != nil {
		return out.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOutboxRepo) CountPending(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockOutboxRepo) Insert(ctx context.Context, messages []domain.OutboundMessage) error {
	return m.Called(ctx, messages).Error(0)
}

func (m *mockOutboxRepo) SelectDelivery(ctx context.Context, trackingCodes []string) ([]database.Row, error) {
	args := m.Called(ctx, trackingCodes)
	if out := args.Get(0); out != nil {
		return out.([]database.Row), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockWhitelistRepo struct {
	mock.Mock
}

func (m *mockWhitelistRepo) Allowed(ctx context.Context, destinations []string) (map[string]struct{}, error) {
	args := m.Called(ctx, destinations)
	if out := args.Get(0); out != nil {
		return out.(map[string]struct{}), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockInboxRepo struct {
	mock.Mock
}

func (m *mockInboxRepo) InsertBatch(ctx context.Context, records []domain.MoRecord) error {
	return m.Called(ctx, records).Error(0)
}

type mockArchiveRepo struct {
	mock.Mock
}

func (m *mockArchiveRepo) FetchBatch(ctx context.Context, limit int) ([]string, time.Time, error) {
	args := m.Called(ctx, limit)
	var ids []string
	if out := args.Get(0); out != nil {
		ids = out.([]string)
	}
	return ids, args.Get(1).(time.Time), args.Error(2)
}

func (m *mockArchiveRepo) EnsureArchiveTable(ctx context.Context, creationDate time.Time) (string, error) {
	args := m.Called(ctx, creationDate)
	return args.String(0), args.Error(1)
}

func (m *mockArchiveRepo) Copy(ctx context.Context, archiveTable string, ids []string) error {
	return m.Called(ctx, archiveTable, ids).Error(0)
}

func (m *mockArchiveRepo) Delete(ctx context.Context, ids []string) error {
	return m.Called(ctx, ids).Error(0)
}

func (m *mockArchiveRepo) DeleteDuplicates(ctx context.Context, archiveTable string) error {
	return m.Called(ctx, archiveTable).Error(0)
}
