package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/internal/core/ports/mocks"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	streamSender    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	streamRecipient = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type streamTestDeps struct {
	svc        *StreamServiceImpl
	streams    *mocks.MockStreamRepository
	events     *mocks.MockEventRepository
	transactor *mocks.MockDBTransactor
	clock      *ManualClock
	metrics    *recordingMetrics
	ctrl       *gomock.Controller
}

func setupStreamService(t *testing.T) *streamTestDeps {
	ctrl := gomock.NewController(t)
	d := &streamTestDeps{
		streams:    mocks.NewMockStreamRepository(ctrl),
		events:     mocks.NewMockEventRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		clock:      NewManualClock(testNow),
		metrics:    newRecordingMetrics(),
		ctrl:       ctrl,
	}
	d.svc = NewStreamService(d.streams, d.events, d.transactor, d.clock, d.metrics, zerolog.Nop())
	return d
}

// dayStream releases 86_400_000_000 units over one day from testNow.
func dayStream(cliffOffset int64, cancelable bool) *domain.Stream {
	start := testNow.Unix()
	return &domain.Stream{
		ID:         uuid.New(),
		Sender:     streamSender,
		Recipient:  streamRecipient,
		Deposit:    amt("86400000000"),
		StartTime:  start,
		CliffTime:  start + cliffOffset,
		EndTime:    start + 86_400,
		Cancelable: cancelable,
		Active:     true,
	}
}

// ==================== Create Tests ====================

func TestStreamService_Create_Success(t *testing.T) {
	d := setupStreamService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	req := ports.CreateStreamRequest{
		Sender:     streamSender,
		Recipient:  streamRecipient,
		Deposit:    amt("86400000000"),
		StartTime:  testNow.Unix(),
		CliffTime:  testNow.Unix(),
		EndTime:    testNow.Unix() + 86_400,
		Cancelable: true,
	}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.streams.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.events.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, e *domain.LedgerEvent) error {
			assert.Equal(t, domain.EventStreamCreated, e.Kind)
			assert.Equal(t, streamSender, e.Account)
			return nil
		})

	stream, err := d.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, stream.ID)
	assert.True(t, stream.Active)
	assert.True(t, stream.Withdrawn.IsZero())
	assert.Equal(t, 1, d.metrics.count("stream:create:ok"))
}

func TestStreamService_Create_Invalid(t *testing.T) {
	base := ports.CreateStreamRequest{
		Sender:    streamSender,
		Recipient: streamRecipient,
		Deposit:   amt("1000"),
		StartTime: 100,
		CliffTime: 100,
		EndTime:   200,
	}

	tests := []struct {
		name   string
		mutate func(r *ports.CreateStreamRequest)
		code   string
	}{
		{"zero deposit", func(r *ports.CreateStreamRequest) { r.Deposit = domain.Amount{} }, "AMT_001"},
		{"end before start", func(r *ports.CreateStreamRequest) { r.EndTime = 50 }, "REQ_001"},
		{"end equals start", func(r *ports.CreateStreamRequest) { r.EndTime = 100 }, "REQ_001"},
		{"cliff before start", func(r *ports.CreateStreamRequest) { r.CliffTime = 99 }, "REQ_001"},
		{"cliff after end", func(r *ports.CreateStreamRequest) { r.CliffTime = 201 }, "REQ_001"},
		{"self stream", func(r *ports.CreateStreamRequest) { r.Recipient = r.Sender }, "REQ_001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupStreamService(t)
			defer d.ctrl.Finish()

			req := base
			tt.mutate(&req)
			_, err := d.svc.Create(context.Background(), req)
			assertAppError(t, err, tt.code)
		})
	}
}

// ==================== Withdraw Tests ====================

func TestStreamService_Withdraw_VestedAfterOneHour(t *testing.T) {
	d := setupStreamService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	stream := dayStream(0, true)
	d.clock.Advance(time.Hour)

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.streams.EXPECT().GetByIDForUpdate(ctx, tx, stream.ID).Return(stream, nil)
	d.streams.EXPECT().Update(ctx, tx, stream).Return(nil)
	d.events.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, e *domain.LedgerEvent) error {
			assert.Equal(t, domain.EventStreamWithdrawn, e.Kind)
			assert.Equal(t, streamRecipient, e.Account)
			assert.Equal(t, "3600000000", e.Amount.String())
			return nil
		})

	out, err := d.svc.Withdraw(ctx, stream.ID, streamRecipient)
	require.NoError(t, err)
	assert.False(t, out.NothingToWithdraw)
	assert.Equal(t, "3600000000", out.Amount.String())
	assert.Equal(t, "3600000000", out.WithdrawnTotal.String())
	assert.True(t, out.Active)
}

func TestStreamService_Withdraw_NothingToWithdrawWritesNothing(t *testing.T) {
	d := setupStreamService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	stream := dayStream(0, true)
	stream.Withdrawn = amt("3600000000")
	d.clock.Advance(time.Hour)

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.streams.EXPECT().GetByIDForUpdate(ctx, tx, stream.ID).Return(stream, nil)

	out, err := d.svc.Withdraw(ctx, stream.ID, streamRecipient)
	require.NoError(t, err)
	assert.True(t, out.NothingToWithdraw)
	assert.True(t, out.Amount.IsZero())
	assert.Equal(t, 1, d.metrics.count("stream:withdraw:nothing_to_withdraw"))
}

func TestStreamService_Withdraw_FullDrainDeactivates(t *testing.T) {
	d := setupStreamService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	stream := dayStream(0, true)
	d.clock.Advance(48 * time.Hour)

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.streams.EXPECT().GetByIDForUpdate(ctx, tx, stream.ID).Return(stream, nil)
	d.streams.EXPECT().Update(ctx, tx, stream).Return(nil)
	d.events.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)

	out, err := d.svc.Withdraw(ctx, stream.ID, streamRecipient)
	require.NoError(t, err)
	assert.Equal(t, "86400000000", out.Amount.String())
	assert.False(t, out.Active)
	assert.False(t, stream.Active)
}

func TestStreamService_Withdraw_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		stream  func() *domain.Stream
		caller  common.Address
		advance time.Duration
		code    string
	}{
		{
			name:    "sender is not the recipient",
			stream:  func() *domain.Stream { return dayStream(0, true) },
			caller:  streamSender,
			advance: time.Hour,
			code:    "AUTH_002",
		},
		{
			name:    "cliff not reached",
			stream:  func() *domain.Stream { return dayStream(1800, true) },
			caller:  streamRecipient,
			advance: 100 * time.Second,
			code:    "TIME_003",
		},
		{
			name: "inactive",
			stream: func() *domain.Stream {
				s := dayStream(0, true)
				s.Active = false
				return s
			},
			caller:  streamRecipient,
			advance: time.Hour,
			code:    "STR_001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupStreamService(t)
			defer d.ctrl.Finish()

			ctx := context.Background()
			tx := &mockTx{}
			stream := tt.stream()
			before := *stream
			d.clock.Advance(tt.advance)

			d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
			d.streams.EXPECT().GetByIDForUpdate(ctx, tx, stream.ID).Return(stream, nil)

			_, err := d.svc.Withdraw(ctx, stream.ID, tt.caller)
			assertAppError(t, err, tt.code)
			assert.Equal(t, before, *stream, "rejected withdraw must not mutate the stream")
		})
	}
}

func TestStreamService_Withdraw_NotFound(t *testing.T) {
	d := setupStreamService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	id := uuid.New()

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.streams.EXPECT().GetByIDForUpdate(ctx, tx, id).Return(nil, nil)

	_, err := d.svc.Withdraw(ctx, id, streamRecipient)
	assertAppError(t, err, "NF_001")
}

// ==================== Cancel Tests ====================

func TestStreamService_Cancel_Conservation(t *testing.T) {
	d := setupStreamService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	stream := dayStream(0, true)
	stream.Withdrawn = amt("1000000000")
	d.clock.Advance(time.Hour)

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.streams.EXPECT().GetByIDForUpdate(ctx, tx, stream.ID).Return(stream, nil)
	d.streams.EXPECT().Update(ctx, tx, stream).Return(nil)
	d.events.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, e *domain.LedgerEvent) error {
			assert.Equal(t, domain.EventStreamCancelled, e.Kind)
			assert.Contains(t, string(e.Details), `"recipient_remaining":"2600000000"`)
			return nil
		})

	out, err := d.svc.Cancel(ctx, stream.ID, streamSender)
	require.NoError(t, err)
	assert.Equal(t, "3600000000", out.VestedAtCancel.String())
	assert.Equal(t, "2600000000", out.RecipientRemaining.String())
	assert.Equal(t, "82800000000", out.SenderRefund.String())

	total, err := out.SenderRefund.Add(out.RecipientRemaining)
	require.NoError(t, err)
	total, err = total.Add(out.WithdrawnBefore)
	require.NoError(t, err)
	assert.Equal(t, stream.Deposit, total)

	assert.False(t, stream.Active)
	assert.Equal(t, "3600000000", stream.Withdrawn.String())
}

func TestStreamService_Cancel_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		stream func() *domain.Stream
		caller common.Address
		code   string
	}{
		{"recipient cannot cancel", func() *domain.Stream { return dayStream(0, true) }, streamRecipient, "AUTH_002"},
		{"not cancelable", func() *domain.Stream { return dayStream(0, false) }, streamSender, "STR_002"},
		{"already cancelled", func() *domain.Stream {
			s := dayStream(0, true)
			s.Active = false
			return s
		}, streamSender, "STR_001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupStreamService(t)
			defer d.ctrl.Finish()

			ctx := context.Background()
			tx := &mockTx{}
			stream := tt.stream()

			d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
			d.streams.EXPECT().GetByIDForUpdate(ctx, tx, stream.ID).Return(stream, nil)

			_, err := d.svc.Cancel(ctx, stream.ID, tt.caller)
			assertAppError(t, err, tt.code)
		})
	}
}

// ==================== Read Tests ====================

func TestStreamService_Get(t *testing.T) {
	d := setupStreamService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	stream := dayStream(0, true)
	d.clock.Advance(time.Hour)

	d.streams.EXPECT().GetByID(ctx, stream.ID).Return(stream, nil)

	view, err := d.svc.Get(ctx, stream.ID)
	require.NoError(t, err)
	assert.Equal(t, "3600000000", view.Vested.String())
	assert.Equal(t, "3600000000", view.Withdrawable.String())
	assert.Equal(t, "1000000", view.RatePerSecond.String())
	assert.Equal(t, testNow.Unix()+3600, view.AsOf)
}

func TestStreamService_ListByAccount(t *testing.T) {
	d := setupStreamService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.streams.EXPECT().ListByAccount(ctx, streamRecipient).Return([]domain.Stream{*dayStream(0, true), *dayStream(0, false)}, nil)

	views, err := d.svc.ListByAccount(ctx, streamRecipient)
	require.NoError(t, err)
	assert.Len(t, views, 2)

	d.streams.EXPECT().ListByAccount(ctx, streamSender).Return(nil, errors.New("db down"))
	_, err = d.svc.ListByAccount(ctx, streamSender)
	assertAppError(t, err, "SYS_001")
}
