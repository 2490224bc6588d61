package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"offchain-settlement/config"
	"offchain-settlement/internal/adapter/metrics"
	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type routerMocks struct {
	settlements *mocks.MockSettlementService
	channels    *mocks.MockChannelService
	streams     *mocks.MockStreamService
	tokens      *mocks.MockTokenService
}

func newTestRouter(t *testing.T) (*gin.Engine, routerMocks, *metrics.Prometheus) {
	ctrl := gomock.NewController(t)
	m := routerMocks{
		settlements: mocks.NewMockSettlementService(ctrl),
		channels:    mocks.NewMockChannelService(ctrl),
		streams:     mocks.NewMockStreamService(ctrl),
		tokens:      mocks.NewMockTokenService(ctrl),
	}
	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(time.Now()).AnyTimes()

	prom := metrics.NewPrometheus()
	r := SetupRouter(RouterDeps{
		SettlementSvc:    m.settlements,
		ChannelSvc:       m.channels,
		StreamSvc:        m.streams,
		AuthorizationSvc: mocks.NewMockAuthorizationService(ctrl),
		SessionSvc:       mocks.NewMockSessionService(ctrl),
		EventFeed:        mocks.NewMockEventFeed(ctrl),
		SigSvc:           mocks.NewMockSignatureService(ctrl),
		NonceStore:       mocks.NewMockNonceStore(ctrl),
		TokenSvc:         m.tokens,
		Clock:            clock,
		Operator:         config.OperatorConfig{AccessKey: "ak", Secret: "sk"},
		HTTPObserver:     prom,
		MetricsHandler:   prom.Handler(),
		Logger:           zerolog.Nop(),
	})
	return r, m, prom
}

func TestRouter_PublicRead(t *testing.T) {
	r, m, _ := newTestRouter(t)
	m.channels.EXPECT().Get(gomock.Any(), alice).Return(&domain.Channel{Payer: alice, Balance: domain.NewAmount(1)}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/channels/"+alice.Hex(), nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_OperatorRoutesRequireHMAC(t *testing.T) {
	r, _, _ := newTestRouter(t)

	for _, path := range []string{"/api/v1/channels/deposits", "/api/v1/streams"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Contains(t, w.Body.String(), "AUTH_003", path)
	}
}

func TestRouter_SessionRoutesRequireToken(t *testing.T) {
	r, _, _ := newTestRouter(t)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/v1/streams/7d444840-9dc0-11d1-b245-5ffdce74fad2/withdraw", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/streams/7d444840-9dc0-11d1-b245-5ffdce74fad2/cancel", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/me/streams", nil),
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, req.URL.Path)
		assert.Contains(t, w.Body.String(), "AUTH_001")
	}
}

func TestRouter_OversizedBody(t *testing.T) {
	r, _, _ := newTestRouter(t)

	body := strings.NewReader(`{"receipts":[` + strings.Repeat(" ", maxBodyBytes) + `]}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/settlements", body))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRouter_MetricsExposeHTTPRequests(t *testing.T) {
	r, _, _ := newTestRouter(t)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/streams/not-a-uuid", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `settlement_http_requests_total{method="GET",route="/api/v1/streams/:id",status="400"} 1`)
}

func TestRouter_Health(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
