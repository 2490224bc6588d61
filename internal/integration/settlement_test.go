package integration

import (
	"net/http"
	"testing"
	"time"

	"offchain-settlement/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_HealthCheck(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Get(app.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntegration_DepositSettleReplay(t *testing.T) {
	app := newTestApp(t)
	payer := newAccount(t)

	app.deposit(t, payer, "1000")
	assert.Equal(t, "1000", app.balance(t, payer))

	receipt := app.receipt(t, payer, "400")
	out := app.settle(t, receipt)
	require.Equal(t, 1, out.Settled)
	s := out.Results[0].Settlement
	require.NotNil(t, s)
	assert.Equal(t, "400", s.Amount)
	assert.Equal(t, "4", s.Fee)
	assert.Equal(t, "396", s.Net)
	assert.Equal(t, "600", s.BalanceAfter)
	assert.Equal(t, "600", app.balance(t, payer))

	// Settlement is readable by digest.
	status, _ := app.get(t, "/api/v1/settlements/"+out.Results[0].Digest)
	assert.Equal(t, http.StatusOK, status)

	// The same receipt never settles twice.
	replay := app.settle(t, receipt)
	assert.Equal(t, 0, replay.Settled)
	assert.Equal(t, "RPL_001", replay.Results[0].ErrorCode)
	assert.Equal(t, "600", app.balance(t, payer))
}

func TestIntegration_SettledReceiptResignedByAnotherKeyIsReplay(t *testing.T) {
	app := newTestApp(t)
	payer := newAccount(t)
	other := newAccount(t)
	app.deposit(t, payer, "1000")

	receipt := app.receipt(t, payer, "100")
	require.Equal(t, 1, app.settle(t, receipt).Settled)

	decoded, err := receipt.Decode()
	require.NoError(t, err)
	resigned := receipt
	resigned.Signature = other.sign(t, domain.ReceiptSchema, decoded.Message())

	out := app.settle(t, resigned)
	assert.Equal(t, 0, out.Settled)
	assert.Equal(t, "RPL_001", out.Results[0].ErrorCode)
	assert.Equal(t, "900", app.balance(t, payer))
}

func TestIntegration_BatchIsPerReceipt(t *testing.T) {
	app := newTestApp(t)
	payer := newAccount(t)
	app.deposit(t, payer, "500")

	tampered := app.receipt(t, payer, "100")
	tampered.Amount = "1"

	out := app.settle(t,
		app.receipt(t, payer, "300"),
		app.receipt(t, payer, "300"), // underfunded after the first
		tampered,
		app.receipt(t, payer, "200"),
	)

	assert.Equal(t, 2, out.Settled)
	assert.Equal(t, 2, out.Rejected)
	assert.Equal(t, "settled", out.Results[0].Status)
	assert.Equal(t, "BAL_001", out.Results[1].ErrorCode)
	assert.Equal(t, "SIG_003", out.Results[2].ErrorCode)
	assert.Equal(t, "settled", out.Results[3].Status)
	assert.Equal(t, "0", app.balance(t, payer))
}

func TestIntegration_ExpiredReceiptIsRejected(t *testing.T) {
	app := newTestApp(t)
	payer := newAccount(t)
	app.deposit(t, payer, "500")

	receipt := app.receipt(t, payer, "100")
	app.clock.Advance(301 * time.Second)

	out := app.settle(t, receipt)
	assert.Equal(t, "TIME_001", out.Results[0].ErrorCode)
}

func TestIntegration_ChannelWithdrawal(t *testing.T) {
	app := newTestApp(t)
	payer := newAccount(t)
	app.deposit(t, payer, "1000")

	withdrawal := domain.SignedChannelWithdrawal{
		Payer:    payer.addr.Hex(),
		Amount:   "250",
		Nonce:    app.nextNonce(),
		Deadline: app.now() + 60,
	}
	decoded, err := withdrawal.Decode()
	require.NoError(t, err)
	withdrawal.Signature = payer.sign(t, domain.ChannelWithdrawalSchema, decoded.Message())

	status, env := app.post(t, "/api/v1/channels/withdrawals", withdrawal)
	require.Equal(t, http.StatusOK, status, env.Message)
	var res struct {
		BalanceAfter string `json:"balance_after"`
	}
	decode(t, env, &res)
	assert.Equal(t, "750", res.BalanceAfter)

	status, env = app.post(t, "/api/v1/channels/withdrawals", withdrawal)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "RPL_001", env.ErrorCode)
	assert.Equal(t, "750", app.balance(t, payer))
}

func TestIntegration_NonceIsSharedAcrossMessageKinds(t *testing.T) {
	app := newTestApp(t)
	payer := newAccount(t)
	app.deposit(t, payer, "1000")

	receipt := app.receipt(t, payer, "10")
	require.Equal(t, 1, app.settle(t, receipt).Settled)

	withdrawal := domain.SignedChannelWithdrawal{
		Payer:    payer.addr.Hex(),
		Amount:   "10",
		Nonce:    receipt.Nonce,
		Deadline: app.now() + 60,
	}
	decoded, err := withdrawal.Decode()
	require.NoError(t, err)
	withdrawal.Signature = payer.sign(t, domain.ChannelWithdrawalSchema, decoded.Message())

	status, env := app.post(t, "/api/v1/channels/withdrawals", withdrawal)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "RPL_001", env.ErrorCode)
}

func TestIntegration_TransferAuthorization(t *testing.T) {
	app := newTestApp(t)
	from := newAccount(t)
	to := newAccount(t)

	auth := domain.SignedTransferAuthorization{
		From:        from.addr.Hex(),
		To:          to.addr.Hex(),
		Value:       "5000",
		ValidAfter:  app.now() - 10,
		ValidBefore: app.now() + 600,
		Nonce:       app.nextNonce(),
	}
	decoded, err := auth.Decode()
	require.NoError(t, err)
	auth.Signature = from.sign(t, domain.TransferAuthorizationSchema, decoded.Message())

	status, env := app.post(t, "/api/v1/authorizations/transfer", auth)
	require.Equal(t, http.StatusOK, status, env.Message)
	var res struct {
		From  string `json:"from"`
		Value string `json:"value"`
	}
	decode(t, env, &res)
	assert.Equal(t, from.addr.Hex(), res.From)
	assert.Equal(t, "5000", res.Value)

	status, env = app.post(t, "/api/v1/authorizations/transfer", auth)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "RPL_001", env.ErrorCode)
}

func TestIntegration_EventFeed(t *testing.T) {
	app := newTestApp(t)
	payer := newAccount(t)
	app.deposit(t, payer, "1000")
	app.deposit(t, payer, "500")
	app.settle(t, app.receipt(t, payer, "100"))

	status, env := app.get(t, "/api/v1/events?after=0")
	require.Equal(t, http.StatusOK, status, env.Message)
	var page struct {
		Events []struct {
			Seq  int64  `json:"seq"`
			Kind string `json:"kind"`
		} `json:"events"`
		Next int64 `json:"next"`
	}
	decode(t, env, &page)
	require.Len(t, page.Events, 3)
	assert.Equal(t, string(domain.EventChannelOpened), page.Events[0].Kind)
	assert.Equal(t, string(domain.EventChannelToppedUp), page.Events[1].Kind)
	assert.Equal(t, string(domain.EventReceiptSettled), page.Events[2].Kind)
	assert.Less(t, page.Events[0].Seq, page.Events[1].Seq)
	assert.Equal(t, page.Events[2].Seq, page.Next)

	status, env = app.get(t, "/api/v1/events?after=" + itoa(page.Next))
	require.Equal(t, http.StatusOK, status)
	decode(t, env, &page)
	assert.Empty(t, page.Events)
}

func TestIntegration_OperatorRequestReplayRejected(t *testing.T) {
	app := newTestApp(t)
	payer := newAccount(t)
	body := map[string]string{"payer": payer.addr.Hex(), "amount": "10"}

	req := app.request(t, http.MethodPost, "/api/v1/channels/deposits", body)
	signOperator(t, app, req, body, "fixed-nonce")
	status, _ := app.do(t, req)
	require.Equal(t, http.StatusOK, status)

	req = app.request(t, http.MethodPost, "/api/v1/channels/deposits", body)
	signOperator(t, app, req, body, "fixed-nonce")
	status, env := app.do(t, req)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "AUTH_005", env.ErrorCode)
	assert.Equal(t, "10", app.balance(t, payer))
}
