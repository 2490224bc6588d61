package service

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/pkg/apperror"
	"offchain-settlement/pkg/eip712"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testDomain = eip712.Domain{
		Name:              "OffchainSettlement",
		Version:           "1",
		ChainID:           8453,
		VerifyingContract: common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}
	testNow       = time.Unix(1_700_000_000, 0).UTC()
	merchantAddr  = common.HexToAddress("0x000000000000000000000000000000000000beef")
	feeCollector  = common.HexToAddress("0x0000000000000000000000000000000000000fee")
	testServiceID = bytes32(0x5e)
)

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

// failingCommitTx fails on Commit.
type failingCommitTx struct{ pgx.Tx }

func (m *failingCommitTx) Rollback(_ context.Context) error { return nil }
func (m *failingCommitTx) Commit(_ context.Context) error   { return fmt.Errorf("connection reset") }

// testSigner is an account with a throwaway private key.
type testSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newTestSigner(t *testing.T) testSigner {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return testSigner{key: key, addr: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

func (s testSigner) sign(t *testing.T, schema eip712.Schema, message map[string]any) string {
	t.Helper()
	sig, err := eip712.SignMessage(testDomain, schema, message, s.key)
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

func bytes32(b byte) string {
	return "0x" + strings.Repeat(fmt.Sprintf("%02x", b), 32)
}

// signedReceipt builds a receipt for payer signed by key holder signer.
func signedReceipt(t *testing.T, signer testSigner, payer common.Address, amount, nonce string, expiry int64) domain.SignedReceipt {
	t.Helper()
	r := domain.SignedReceipt{
		Payer:     payer.Hex(),
		Merchant:  merchantAddr.Hex(),
		Amount:    amount,
		ServiceID: testServiceID,
		Nonce:     nonce,
		Expiry:    expiry,
	}
	rc, err := r.Decode()
	require.NoError(t, err)
	r.Signature = signer.sign(t, domain.ReceiptSchema, rc.Message())
	return r
}

func amt(s string) domain.Amount {
	return domain.MustParseAmount(s)
}

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}

// recordingMetrics counts observations as "kind:label" keys.
type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: make(map[string]int)}
}

func (m *recordingMetrics) inc(key string) {
	m.mu.Lock()
	m.counts[key]++
	m.mu.Unlock()
}

func (m *recordingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *recordingMetrics) ObserveReceipt(outcome string)     { m.inc("receipt:" + outcome) }
func (m *recordingMetrics) ObserveChannel(op, outcome string) { m.inc("channel:" + op + ":" + outcome) }
func (m *recordingMetrics) ObserveStream(op, outcome string)  { m.inc("stream:" + op + ":" + outcome) }
func (m *recordingMetrics) ObserveTransfer(outcome string)    { m.inc("transfer:" + outcome) }
func (m *recordingMetrics) ObserveNonceCache(result string)   { m.inc("nonce_cache:" + result) }
