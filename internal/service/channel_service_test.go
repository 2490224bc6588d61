package service

import (
	"context"
	"errors"
	"testing"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports/mocks"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type channelTestDeps struct {
	svc        *ChannelServiceImpl
	channels   *mocks.MockChannelRepository
	events     *mocks.MockEventRepository
	nonceRepo  *mocks.MockNonceRepository
	transactor *mocks.MockDBTransactor
	metrics    *recordingMetrics
	ctrl       *gomock.Controller
}

func setupChannelService(t *testing.T) *channelTestDeps {
	ctrl := gomock.NewController(t)
	d := &channelTestDeps{
		channels:   mocks.NewMockChannelRepository(ctrl),
		events:     mocks.NewMockEventRepository(ctrl),
		nonceRepo:  mocks.NewMockNonceRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		metrics:    newRecordingMetrics(),
		ctrl:       ctrl,
	}
	// No nonce cache: the durable ledger alone must be enough.
	nonces := NewNonceLedger(d.nonceRepo, nil, d.metrics, zerolog.Nop())
	d.svc = NewChannelService(
		d.channels, d.events,
		NewChannelLedger(d.channels, 10, feeCollector),
		nonces, NewTypedDataVerifier(testDomain), d.transactor,
		NewManualClock(testNow), d.metrics, zerolog.Nop(),
	)
	return d
}

func signedWithdrawal(t *testing.T, signer testSigner, payer common.Address, amount, nonce string, deadline int64) domain.SignedChannelWithdrawal {
	t.Helper()
	req := domain.SignedChannelWithdrawal{
		Payer:    payer.Hex(),
		Amount:   amount,
		Nonce:    nonce,
		Deadline: deadline,
	}
	w, err := req.Decode()
	require.NoError(t, err)
	req.Signature = signer.sign(t, domain.ChannelWithdrawalSchema, w.Message())
	return req
}

// ==================== Open / TopUp Tests ====================

func TestChannelService_Open_NewChannel(t *testing.T) {
	d := setupChannelService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	payer := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.channels.EXPECT().CreateIfAbsent(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, ch *domain.Channel) (bool, error) {
			assert.Equal(t, payer, ch.Payer)
			assert.True(t, ch.Balance.IsZero())
			return true, nil
		})
	d.channels.EXPECT().GetForUpdate(ctx, tx, payer).Return(&domain.Channel{Payer: payer}, nil)
	d.channels.EXPECT().UpdateBalance(ctx, tx, payer, amt("500000")).Return(nil)
	d.events.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, e *domain.LedgerEvent) error {
			assert.Equal(t, domain.EventChannelOpened, e.Kind)
			assert.Equal(t, "500000", e.Amount.String())
			return nil
		})

	ch, err := d.svc.Open(ctx, payer, amt("500000"))
	require.NoError(t, err)
	assert.Equal(t, "500000", ch.Balance.String())
	assert.Equal(t, 1, d.metrics.count("channel:open:ok"))
}

func TestChannelService_Open_ExistingChannelTopsUp(t *testing.T) {
	d := setupChannelService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	payer := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.channels.EXPECT().CreateIfAbsent(ctx, tx, gomock.Any()).Return(false, nil)
	d.channels.EXPECT().GetForUpdate(ctx, tx, payer).Return(&domain.Channel{Payer: payer, Balance: amt("250")}, nil)
	d.channels.EXPECT().UpdateBalance(ctx, tx, payer, amt("350")).Return(nil)
	d.events.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, e *domain.LedgerEvent) error {
			assert.Equal(t, domain.EventChannelToppedUp, e.Kind)
			return nil
		})

	ch, err := d.svc.Open(ctx, payer, amt("100"))
	require.NoError(t, err)
	assert.Equal(t, "350", ch.Balance.String())
}

func TestChannelService_TopUp_MissingChannel(t *testing.T) {
	d := setupChannelService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	payer := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.channels.EXPECT().GetForUpdate(ctx, tx, payer).Return(nil, nil)

	_, err := d.svc.TopUp(ctx, payer, amt("100"))
	assertAppError(t, err, "NF_001")
	assert.Equal(t, 1, d.metrics.count("channel:top_up:NF_001"))
}

func TestChannelService_TopUp_Overflow(t *testing.T) {
	d := setupChannelService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	payer := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	maxAmount := amt("115792089237316195423570985008687907853269984665640564039457584007913129639935")

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.channels.EXPECT().GetForUpdate(ctx, tx, payer).Return(&domain.Channel{Payer: payer, Balance: maxAmount}, nil)

	_, err := d.svc.TopUp(ctx, payer, amt("1"))
	assertAppError(t, err, "AMT_001")
}

func TestChannelService_Deposit_ZeroAmount(t *testing.T) {
	d := setupChannelService(t)
	defer d.ctrl.Finish()

	payer := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	_, err := d.svc.Open(context.Background(), payer, domain.Amount{})
	assertAppError(t, err, "AMT_001")

	_, err = d.svc.TopUp(context.Background(), payer, domain.Amount{})
	assertAppError(t, err, "AMT_001")
}

// ==================== Withdraw Tests ====================

func TestChannelService_Withdraw_Success(t *testing.T) {
	d := setupChannelService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	payer := newTestSigner(t)
	nonce := common.HexToHash(bytes32(0x21))
	req := signedWithdrawal(t, payer, payer.addr, "400000", nonce.Hex(), testNow.Unix()+60)

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.nonceRepo.EXPECT().IsConsumed(ctx, tx, payer.addr, nonce).Return(false, nil)
	d.channels.EXPECT().GetForUpdate(ctx, tx, payer.addr).Return(&domain.Channel{Payer: payer.addr, Balance: amt("400000")}, nil)
	d.channels.EXPECT().UpdateBalance(ctx, tx, payer.addr, amt("0")).Return(nil)
	d.nonceRepo.EXPECT().Consume(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, n *domain.ConsumedNonce) (bool, error) {
			assert.Equal(t, domain.NonceKindChannelWithdrawal, n.Kind)
			return true, nil
		})
	d.events.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)

	res, err := d.svc.Withdraw(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, payer.addr, res.Payer)
	assert.Equal(t, "400000", res.Amount.String())
	assert.True(t, res.BalanceAfter.IsZero())
	assert.NotEqual(t, common.Hash{}, res.Digest)
	assert.Equal(t, 1, d.metrics.count("channel:withdraw:ok"))
}

func TestChannelService_Withdraw_InsufficientBalance(t *testing.T) {
	d := setupChannelService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	payer := newTestSigner(t)
	nonce := common.HexToHash(bytes32(0x22))
	req := signedWithdrawal(t, payer, payer.addr, "400001", nonce.Hex(), testNow.Unix()+60)

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.nonceRepo.EXPECT().IsConsumed(ctx, tx, payer.addr, nonce).Return(false, nil)
	d.channels.EXPECT().GetForUpdate(ctx, tx, payer.addr).Return(&domain.Channel{Payer: payer.addr, Balance: amt("400000")}, nil)

	_, err := d.svc.Withdraw(ctx, req)
	assertAppError(t, err, "BAL_002")
}

func TestChannelService_Withdraw_Rejections(t *testing.T) {
	payer := newTestSigner(t)
	other := newTestSigner(t)

	t.Run("expired deadline", func(t *testing.T) {
		d := setupChannelService(t)
		defer d.ctrl.Finish()

		req := signedWithdrawal(t, payer, payer.addr, "1", bytes32(0x23), testNow.Unix())
		_, err := d.svc.Withdraw(context.Background(), req)
		assertAppError(t, err, "TIME_001")
	})

	t.Run("replayed nonce", func(t *testing.T) {
		d := setupChannelService(t)
		defer d.ctrl.Finish()
		ctx := context.Background()
		tx := &mockTx{}

		req := signedWithdrawal(t, payer, payer.addr, "1", bytes32(0x24), testNow.Unix()+60)
		d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
		d.nonceRepo.EXPECT().IsConsumed(ctx, tx, payer.addr, common.HexToHash(bytes32(0x24))).Return(true, nil)

		_, err := d.svc.Withdraw(ctx, req)
		assertAppError(t, err, "RPL_001")
	})

	t.Run("signed by another account", func(t *testing.T) {
		d := setupChannelService(t)
		defer d.ctrl.Finish()
		ctx := context.Background()
		tx := &mockTx{}

		req := signedWithdrawal(t, other, payer.addr, "1", bytes32(0x25), testNow.Unix()+60)
		d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
		d.nonceRepo.EXPECT().IsConsumed(ctx, tx, payer.addr, common.HexToHash(bytes32(0x25))).Return(false, nil)

		_, err := d.svc.Withdraw(ctx, req)
		assertAppError(t, err, "SIG_003")
	})

	t.Run("tampered amount", func(t *testing.T) {
		d := setupChannelService(t)
		defer d.ctrl.Finish()
		ctx := context.Background()
		tx := &mockTx{}

		req := signedWithdrawal(t, payer, payer.addr, "1", bytes32(0x26), testNow.Unix()+60)
		req.Amount = "2"
		d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
		d.nonceRepo.EXPECT().IsConsumed(ctx, tx, payer.addr, common.HexToHash(bytes32(0x26))).Return(false, nil)

		_, err := d.svc.Withdraw(ctx, req)
		assertAppError(t, err, "SIG_003")
	})

	t.Run("zero amount", func(t *testing.T) {
		d := setupChannelService(t)
		defer d.ctrl.Finish()

		req := signedWithdrawal(t, payer, payer.addr, "0", bytes32(0x27), testNow.Unix()+60)
		_, err := d.svc.Withdraw(context.Background(), req)
		assertAppError(t, err, "AMT_001")
	})

	t.Run("lost nonce race", func(t *testing.T) {
		d := setupChannelService(t)
		defer d.ctrl.Finish()
		ctx := context.Background()
		tx := &mockTx{}

		req := signedWithdrawal(t, payer, payer.addr, "1", bytes32(0x28), testNow.Unix()+60)
		d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
		d.nonceRepo.EXPECT().IsConsumed(ctx, tx, payer.addr, common.HexToHash(bytes32(0x28))).Return(false, nil)
		d.channels.EXPECT().GetForUpdate(ctx, tx, payer.addr).Return(&domain.Channel{Balance: amt("5")}, nil)
		d.channels.EXPECT().UpdateBalance(ctx, tx, payer.addr, amt("4")).Return(nil)
		d.nonceRepo.EXPECT().Consume(ctx, tx, gomock.Any()).Return(false, nil)

		_, err := d.svc.Withdraw(ctx, req)
		assertAppError(t, err, "RPL_001")
	})
}

// ==================== Get Tests ====================

func TestChannelService_Get(t *testing.T) {
	d := setupChannelService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	payer := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	d.channels.EXPECT().Get(ctx, payer).Return(&domain.Channel{Payer: payer, Balance: amt("7")}, nil)
	ch, err := d.svc.Get(ctx, payer)
	require.NoError(t, err)
	assert.Equal(t, "7", ch.Balance.String())

	d.channels.EXPECT().Get(ctx, payer).Return(nil, nil)
	_, err = d.svc.Get(ctx, payer)
	assertAppError(t, err, "NF_001")

	d.channels.EXPECT().Get(ctx, payer).Return(nil, errors.New("db down"))
	_, err = d.svc.Get(ctx, payer)
	assertAppError(t, err, "SYS_001")
}
