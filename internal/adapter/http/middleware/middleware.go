package middleware

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"offchain-settlement/config"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"
	"offchain-settlement/pkg/response"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Header names for operator HMAC authentication
	HeaderAccessKey = "X-Operator-Access-Key"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderRequestID = "X-Request-ID"

	// Max timestamp drift allowed (60 seconds)
	maxTimestampDrift = 60 * time.Second

	// Request nonces outlive the drift window on both sides.
	nonceTTL = 2 * maxTimestampDrift

	// Context keys
	CtxAccount  = "account"
	CtxOperator = "operator"
)

// HTTPObserver records per-request metrics.
type HTTPObserver interface {
	ObserveHTTP(route, method, status string, seconds float64)
}

// OperatorAuth verifies HMAC-SHA256 signed operator requests.
// Pipeline: Check timestamp -> Check access key -> Verify signature -> Burn nonce.
// An operator without configured credentials rejects every request.
func OperatorAuth(
	creds config.OperatorConfig,
	sigSvc ports.SignatureService,
	nonceStore ports.NonceStore,
	clock ports.Clock,
	log zerolog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		accessKey := c.GetHeader(HeaderAccessKey)
		signature := c.GetHeader(HeaderSignature)
		timestampStr := c.GetHeader(HeaderTimestamp)
		nonce := c.GetHeader(HeaderNonce)

		if accessKey == "" || signature == "" || timestampStr == "" || nonce == "" {
			response.Error(c, apperror.ErrInvalidOperatorCredentials())
			c.Abort()
			return
		}

		// Step 1: Timestamp check
		timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
		if err != nil {
			response.Error(c, apperror.ErrRequestTimestamp())
			c.Abort()
			return
		}
		drift := clock.Now().Sub(time.Unix(timestamp, 0))
		if drift > maxTimestampDrift || drift < -maxTimestampDrift {
			response.Error(c, apperror.ErrRequestTimestamp())
			c.Abort()
			return
		}

		// Step 2: Access key
		if creds.AccessKey == "" || creds.Secret == "" ||
			subtle.ConstantTimeCompare([]byte(accessKey), []byte(creds.AccessKey)) != 1 {
			response.Error(c, apperror.ErrInvalidOperatorCredentials())
			c.Abort()
			return
		}

		// Step 3: Signature verification
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.Error(c, apperror.Validation("cannot read request body"))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		canonical := sigSvc.BuildCanonicalString(
			c.Request.Method,
			c.Request.URL.Path,
			timestamp,
			nonce,
			string(bodyBytes),
		)
		if !sigSvc.Verify(creds.Secret, canonical, signature) {
			response.Error(c, apperror.ErrInvalidOperatorCredentials())
			c.Abort()
			return
		}

		// Step 4: Nonce. Operator calls move funds, so a store outage rejects the request.
		isNew, err := nonceStore.CheckAndSet(c.Request.Context(), accessKey, nonce, nonceTTL)
		if err != nil {
			log.Error().Err(err).Msg("operator nonce store unavailable")
			response.Error(c, apperror.InternalError(err))
			c.Abort()
			return
		}
		if !isNew {
			response.Error(c, apperror.ErrRequestNonceUsed())
			c.Abort()
			return
		}

		c.Set(CtxOperator, accessKey)
		c.Next()
	}
}

// SessionAuth validates session JWTs and exposes the authenticated account.
func SessionAuth(tokenSvc ports.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenStr == "" {
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}

		claims, err := tokenSvc.Validate(tokenStr)
		if err != nil {
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}

		c.Set(CtxAccount, claims.Account)
		c.Next()
	}
}

// AccountFrom returns the account set by SessionAuth.
func AccountFrom(c *gin.Context) (common.Address, bool) {
	v, exists := c.Get(CtxAccount)
	if !exists {
		return common.Address{}, false
	}
	account, ok := v.(common.Address)
	return account, ok
}

// RequestID propagates X-Request-ID or assigns a fresh one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		c.Set(response.RequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestLogger creates a middleware that logs every HTTP request.
// obs may be nil.
func RequestLogger(log zerolog.Logger, obs HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if obs != nil {
			obs.ObserveHTTP(route, c.Request.Method, strconv.Itoa(status), latency.Seconds())
		}

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("request_id", c.GetString(response.RequestIDKey)).
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				response.Error(c, apperror.InternalError(fmt.Errorf("panic: %v", r)))
				c.Abort()
			}
		}()
		c.Next()
	}
}
