package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/agent-uploader/pkg/config"
)

// EndpointPath is appended to the configured base URL.
const EndpointPath = "rx.php"

// Transport posts compressed payloads to the collector. Exactly one request
// is issued per call; the periodic cycle is the only retry mechanism.
type Transport struct {
	client   *retryablehttp.Client
	endpoint string
	username string
	password string
	auth     bool
}

// NewTransport builds the HTTP client for cfg. cfg.Timeout bounds each request.
func NewTransport(cfg config.UploadConfig, log *zap.Logger) (*Transport, error) {
	endpoint, err := url.JoinPath(cfg.URL, EndpointPath)
	if err != nil {
		return nil, fmt.Errorf("invalid upload url %q: %w", cfg.URL, err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = leveledLogger{log: log.Sugar()}
	client.CheckRetry = func(ctx context.Context, _ *http.Response, _ error) (bool, error) {
		return false, ctx.Err()
	}
	// hand back the raw response and error so the caller can classify them
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Transport{
		client:   client,
		endpoint: endpoint,
		username: cfg.Username,
		password: cfg.Password,
		auth:     cfg.HasCredentials(),
	}, nil
}

// Endpoint returns the full upload URL.
func (t *Transport) Endpoint() string { return t.endpoint }

// Post sends payload and returns the status code and body. A non-nil error
// means no usable response arrived (timeout, refused, DNS, TLS, or the body
// could not be read).
func (t *Transport) Post(ctx context.Context, payload []byte) (int, []byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if t.auth {
		req.SetBasicAuth(t.username, t.password)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// cancellation after the headers arrived still hands back the response
		if resp != nil {
			resp.Body.Close()
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// leveledLogger routes retryablehttp's own logging to debug level. Failures
// are classified and reported by the uploader, which applies suppression.
type leveledLogger struct {
	log *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

var _ retryablehttp.LeveledLogger = leveledLogger{}
