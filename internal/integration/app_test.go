package integration

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"offchain-settlement/config"
	httpHandler "offchain-settlement/internal/adapter/http/handler"
	"offchain-settlement/internal/adapter/metrics"
	"offchain-settlement/internal/adapter/storage/memory"
	redisStorage "offchain-settlement/internal/adapter/storage/redis"
	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/service"
	"offchain-settlement/pkg/eip712"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// testApp wires the real HTTP layer, services and in-memory ledger together.
// Replay cache, operator nonces and settlement lookups go through miniredis.

var (
	testDomain = eip712.Domain{
		Name:              "OffchainSettlement",
		Version:           "1",
		ChainID:           8453,
		VerifyingContract: common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}
	merchant     = common.HexToAddress("0x000000000000000000000000000000000000beef")
	feeCollector = common.HexToAddress("0x0000000000000000000000000000000000000fee")
	serviceID    = "0x" + fmt.Sprintf("%064x", 0x5e)
	operator     = config.OperatorConfig{AccessKey: "ak_integration", Secret: "integration-secret"}
)

const testFeeBps = 100

type testApp struct {
	server *httptest.Server
	redis  *miniredis.Miniredis
	clock  *service.ManualClock
	sigSvc *service.HMACSignatureService
	nonce  atomic.Uint64
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	log := zerolog.Nop()
	clock := service.NewManualClock(time.Now().Truncate(time.Second))
	prom := metrics.NewPrometheus()

	store := memory.NewStore()
	channels := memory.NewChannelRepo(store)
	events := memory.NewEventRepo(store)

	verifier := service.NewTypedDataVerifier(testDomain)
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService("integration-jwt-secret-32-bytes!!", time.Hour, "offchain-settlement", clock)

	nonceLedger := service.NewNonceLedger(memory.NewNonceRepo(store), redisStorage.NewNonceCache(rdb, time.Minute), prom, log)
	channelLedger := service.NewChannelLedger(channels, testFeeBps, feeCollector)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		SettlementSvc: service.NewSettlementService(
			channelLedger, memory.NewSettlementRepo(store), events, nonceLedger,
			redisStorage.NewSettlementCache(rdb), verifier, store, clock,
			service.SettlementConfig{MaxBatchSize: 100, CacheTTL: time.Minute}, prom, log,
		),
		ChannelSvc:       service.NewChannelService(channels, events, channelLedger, nonceLedger, verifier, store, clock, prom, log),
		StreamSvc:        service.NewStreamService(memory.NewStreamRepo(store), events, store, clock, prom, log),
		AuthorizationSvc: service.NewAuthorizationService(events, nonceLedger, verifier, store, clock, prom, log),
		SessionSvc:       service.NewSessionService(nonceLedger, verifier, tokenSvc, store, clock, 5*time.Minute, log),
		EventFeed:        service.NewEventFeed(events),
		SigSvc:           sigSvc,
		NonceStore:       redisStorage.NewNonceStore(rdb),
		TokenSvc:         tokenSvc,
		Clock:            clock,
		Operator:         operator,
		HTTPObserver:     prom,
		Logger:           log,
	})

	app := &testApp{
		server: httptest.NewServer(router),
		redis:  mr,
		clock:  clock,
		sigSvc: sigSvc,
	}
	t.Cleanup(app.close)
	return app
}

func (a *testApp) close() {
	a.server.Close()
	a.redis.Close()
}

func (a *testApp) now() int64 { return a.clock.Now().Unix() }

// nextNonce returns a fresh bytes32 nonce.
func (a *testApp) nextNonce() string {
	return fmt.Sprintf("0x%064x", a.nonce.Add(1))
}

// --- Accounts ---

type account struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newAccount(t *testing.T) account {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return account{key: key, addr: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

func (acct account) sign(t *testing.T, schema eip712.Schema, message map[string]any) string {
	t.Helper()
	sig, err := eip712.SignMessage(testDomain, schema, message, acct.key)
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

func (a *testApp) receipt(t *testing.T, payer account, amount string) domain.SignedReceipt {
	t.Helper()
	r := domain.SignedReceipt{
		Payer:     payer.addr.Hex(),
		Merchant:  merchant.Hex(),
		Amount:    amount,
		ServiceID: serviceID,
		Nonce:     a.nextNonce(),
		Expiry:    a.now() + 300,
	}
	decoded, err := r.Decode()
	require.NoError(t, err)
	r.Signature = payer.sign(t, domain.ReceiptSchema, decoded.Message())
	return r
}

// --- HTTP helpers ---

type envelope struct {
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
	Message   string          `json:"message"`
}

func (a *testApp) do(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (a *testApp) request(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf []byte
	if body != nil {
		var err error
		buf, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, a.server.URL+path, bytes.NewReader(buf))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (a *testApp) post(t *testing.T, path string, body any) (int, envelope) {
	t.Helper()
	return a.do(t, a.request(t, http.MethodPost, path, body))
}

func (a *testApp) get(t *testing.T, path string) (int, envelope) {
	t.Helper()
	return a.do(t, a.request(t, http.MethodGet, path, nil))
}

// operatorPost signs the request with the operator HMAC credentials.
func (a *testApp) operatorPost(t *testing.T, path string, body any) (int, envelope) {
	t.Helper()
	req := a.request(t, http.MethodPost, path, body)
	signOperator(t, a, req, body, fmt.Sprintf("op-%d", a.nonce.Add(1)))
	return a.do(t, req)
}

func signOperator(t *testing.T, a *testApp, req *http.Request, body any, nonce string) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	ts := a.now()
	canonical := a.sigSvc.BuildCanonicalString(req.Method, req.URL.Path, ts, nonce, string(raw))
	req.Header.Set("X-Operator-Access-Key", operator.AccessKey)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Signature", a.sigSvc.Sign(operator.Secret, canonical))
}

// signedGrant builds a session grant for acct using the n-th test nonce.
func (a *testApp) signedGrant(t *testing.T, acct account, n uint64) domain.SignedSessionGrant {
	t.Helper()
	grant := domain.SignedSessionGrant{
		Account:  acct.addr.Hex(),
		Nonce:    fmt.Sprintf("0x%064x", n),
		IssuedAt: a.now(),
	}
	decoded, err := grant.Decode()
	require.NoError(t, err)
	grant.Signature = acct.sign(t, domain.SessionSchema, decoded.Message())
	return grant
}

// sessionToken opens a session for acct.
func (a *testApp) sessionToken(t *testing.T, acct account) string {
	t.Helper()
	status, env := a.post(t, "/api/v1/sessions", a.signedGrant(t, acct, a.nonce.Add(1)))
	require.Equal(t, http.StatusCreated, status, env.Message)
	var session struct {
		Token string `json:"token"`
	}
	decode(t, env, &session)
	return session.Token
}

func (a *testApp) withToken(t *testing.T, method, path, token string) (int, envelope) {
	t.Helper()
	req := a.request(t, method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return a.do(t, req)
}

func (a *testApp) deposit(t *testing.T, payer account, amount string) {
	t.Helper()
	status, env := a.operatorPost(t, "/api/v1/channels/deposits", map[string]string{
		"payer":  payer.addr.Hex(),
		"amount": amount,
	})
	require.Equal(t, http.StatusOK, status, env.Message)
}

func (a *testApp) balance(t *testing.T, payer account) string {
	t.Helper()
	status, env := a.get(t, "/api/v1/channels/"+payer.addr.Hex())
	require.Equal(t, http.StatusOK, status, env.Message)
	var ch struct {
		Balance string `json:"balance"`
	}
	decode(t, env, &ch)
	return ch.Balance
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func decode(t *testing.T, env envelope, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

// batchResult mirrors the settlement batch response.
type batchResult struct {
	Settled  int `json:"settled"`
	Rejected int `json:"rejected"`
	Results  []struct {
		Index      int    `json:"index"`
		Status     string `json:"status"`
		Digest     string `json:"digest"`
		ErrorCode  string `json:"error_code"`
		Settlement *struct {
			Amount       string `json:"amount"`
			Fee          string `json:"fee"`
			Net          string `json:"net"`
			BalanceAfter string `json:"balance_after"`
		} `json:"settlement"`
	} `json:"results"`
}

func (a *testApp) settle(t *testing.T, receipts ...domain.SignedReceipt) batchResult {
	t.Helper()
	status, env := a.post(t, "/api/v1/settlements", map[string]any{"receipts": receipts})
	require.Equal(t, http.StatusOK, status, env.Message)
	var out batchResult
	decode(t, env, &out)
	return out
}
