package middleware

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-bakong/app/factory"
	"github.com/vibast-solutions/ms-go-bakong/app/signing"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
)

const (
	ContextKeyAPIKey = "api_key"

	defaultBlockThreshold = 10
	defaultBlockWindow    = 5 * time.Minute
	DefaultMaxBodyBytes   = int64(1 << 20)
)

var errBodyTooLarge = errors.New("request body too large")

type APIKeyConfig struct {
	APIKey   string
	Verifier signing.Verifier
	// BlockThreshold failed attempts within BlockWindow block the client IP.
	BlockThreshold int
	BlockWindow    time.Duration
	// MaxBodyBytes caps the body read for signature checks.
	MaxBodyBytes int64
	Now          func() time.Time
}

type failedAttempts struct {
	count int
	last  time.Time
}

type attemptTracker struct {
	mu        sync.Mutex
	entries   map[string]*failedAttempts
	threshold int
	window    time.Duration
	now       func() time.Time
}

func (t *attemptTracker) blocked(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[ip]
	if !ok {
		return false
	}
	if t.now().Sub(entry.last) > t.window {
		delete(t.entries, ip)
		return false
	}
	return entry.count >= t.threshold
}

func (t *attemptTracker) fail(ip string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.entries[ip]
	if !ok || now.Sub(entry.last) > t.window {
		entry = &failedAttempts{}
		t.entries[ip] = entry
	}
	entry.count++
	entry.last = now
	return entry.count
}

func (t *attemptTracker) reset(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, ip)
}

// RequireAPIKey checks the bearer API key and, when present, the request signature.
// The request body is restored for downstream handlers.
func RequireAPIKey(cfg APIKeyConfig) echo.MiddlewareFunc {
	logger := factory.NewModuleLogger("auth-middleware")

	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = defaultBlockThreshold
	}
	if cfg.BlockWindow <= 0 {
		cfg.BlockWindow = defaultBlockWindow
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Verifier.Now == nil {
		cfg.Verifier.Now = cfg.Now
	}
	tracker := &attemptTracker{
		entries:   make(map[string]*failedAttempts),
		threshold: cfg.BlockThreshold,
		window:    cfg.BlockWindow,
		now:       cfg.Now,
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ip := ctx.RealIP()
			l := factory.LoggerWithContext(logger, ctx).WithFields(logrus.Fields{
				"ip":   ip,
				"path": ctx.Request().URL.Path,
			})

			if tracker.blocked(ip) {
				l.Warn("Blocked client attempted request")
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "too many failed authentication attempts"})
			}

			apiKey := bearerToken(ctx.Request().Header.Get(echo.HeaderAuthorization))
			if apiKey == "" || cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(cfg.APIKey)) != 1 {
				attempts := tracker.fail(ip)
				l.WithField("attempts", attempts).Warn("Rejected API key")
				if apiKey == "" {
					return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "api key required"})
				}
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "invalid api key"})
			}

			body, err := readBody(ctx.Request(), cfg.MaxBodyBytes)
			if errors.Is(err, errBodyTooLarge) {
				l.WithField("limit", cfg.MaxBodyBytes).Warn("Rejected oversized request body")
				return ctx.JSON(http.StatusRequestEntityTooLarge, &types.ErrorResponse{Error: "request body too large"})
			}
			if err != nil {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "failed to read request body"})
			}

			err = cfg.Verifier.Verify(
				ctx.Request().Header.Get(signing.HeaderTimestamp),
				ctx.Request().Header.Get(signing.HeaderSignature),
				body,
			)
			if err != nil {
				attempts := tracker.fail(ip)
				l.WithError(err).WithField("attempts", attempts).Warn("Rejected request signature")
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: signatureError(err)})
			}

			tracker.reset(ip)
			ctx.Set(ContextKeyAPIKey, apiKey)
			return next(ctx)
		}
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func readBody(req *http.Request, limit int64) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func signatureError(err error) string {
	switch {
	case errors.Is(err, signing.ErrMissingSignature):
		return "timestamp and signature headers are required"
	case errors.Is(err, signing.ErrInvalidTimestamp), errors.Is(err, signing.ErrStaleTimestamp):
		return "invalid or expired timestamp"
	default:
		return "invalid signature"
	}
}
