package dataservice

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/version"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"go.uber.org/zap"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL of the HTTP API, e.g. http://localhost:8090.
	BaseURL string
	// StreamURL of the WebSocket endpoint. Derived from BaseURL when empty.
	StreamURL string
	// Timeout bounds each HTTP request and the WebSocket handshake.
	Timeout time.Duration
	// ProtocolVersion announced by this client. Defaults to version.ProtocolVersion.
	ProtocolVersion string
}

// Client talks to a remote data service. It implements both PageService and
// StreamService.
type Client struct {
	http            *resty.Client
	dialer          *websocket.Dialer
	streamURL       string
	protocolVersion string
	logger          *logger.Logger
}

var (
	_ PageService   = (*Client)(nil)
	_ StreamService = (*Client)(nil)
)

// NewClient creates a data service client.
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = version.ProtocolVersion
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	streamURL := cfg.StreamURL
	if streamURL == "" {
		streamURL = deriveStreamURL(baseURL)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader(ProtocolHeader, cfg.ProtocolVersion)

	//nolint:exhaustruct // third-party struct with many optional fields
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.Timeout,
	}

	return &Client{
		http:            httpClient,
		dialer:          dialer,
		streamURL:       streamURL,
		protocolVersion: cfg.ProtocolVersion,
		logger:          log,
	}
}

// RequestPage asks the service to create or reuse a materialized page.
func (c *Client) RequestPage(ctx context.Context, spec PageSpec) (string, error) {
	var created PageCreatedResponse

	var apiErr ErrorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(spec).
		SetResult(&created).
		SetError(&apiErr).
		Post("/v1/pages")
	if err != nil {
		return "", c.requestError("request page", err)
	}

	if err := c.checkResponse(resp, apiErr); err != nil {
		return "", err
	}

	if created.Key == "" {
		return "", errors.New(errors.ErrCodeTransportFailed, "service returned an empty page key")
	}

	return created.Key, nil
}

// GetPageStatus polls a page's state.
func (c *Client) GetPageStatus(ctx context.Context, pageKey string) (Status, error) {
	var status Status

	var apiErr ErrorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("key", pageKey).
		SetResult(&status).
		SetError(&apiErr).
		Get("/v1/pages/{key}/status")
	if err != nil {
		return Status{}, c.requestError("get page status", err)
	}

	if err := c.checkResponse(resp, apiErr); err != nil {
		return Status{}, err
	}

	return status, nil
}

// Fetch downloads a finished page as one encoded frame.
func (c *Client) Fetch(ctx context.Context, pageKey string) ([]byte, error) {
	var apiErr ErrorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("key", pageKey).
		SetError(&apiErr).
		Get("/v1/pages/{key}/data")
	if err != nil {
		return nil, c.requestError("fetch page", err)
	}

	if err := c.checkResponse(resp, apiErr); err != nil {
		return nil, err
	}

	return resp.Body(), nil
}

// Subscribe opens a stream for spec. Events are delivered to callback from the
// subscription's reader goroutine until the server closes the stream, ctx is
// cancelled or Cancel is called.
func (c *Client) Subscribe(ctx context.Context, spec PageSpec, callback StreamCallback) (Subscription, error) {
	header := http.Header{}
	header.Set(ProtocolHeader, c.protocolVersion)

	conn, resp, err := c.dialer.DialContext(ctx, c.streamURL, header)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTransportUnavailable, "stream dial failed", err)
	}

	if resp != nil {
		if err := version.CheckProtocolCompatibility(c.protocolVersion, resp.Header.Get(ProtocolHeader)); err != nil {
			_ = conn.Close()

			return nil, err
		}
	}

	if err := conn.WriteJSON(spec); err != nil {
		_ = conn.Close()

		return nil, errors.Wrap(errors.ErrCodeTransportUnavailable, "failed to send subscribe request", err)
	}

	sub := newStreamSubscription(conn, callback, c.logger)

	go sub.read()

	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.Done():
		}
	}()

	c.logger.Debug("Stream subscribed", zap.String("page", spec.CacheKey()))

	return sub, nil
}

func (c *Client) requestError(op string, err error) error {
	return errors.Wrapf(errors.ErrCodeTransportUnavailable, err, "%s failed", op)
}

func (c *Client) checkResponse(resp *resty.Response, apiErr ErrorResponse) error {
	if err := version.CheckProtocolCompatibility(c.protocolVersion, resp.Header().Get(ProtocolHeader)); err != nil {
		return err
	}

	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}

		if resp.StatusCode() == http.StatusNotFound {
			return errors.Newf(errors.ErrCodePageNotFound, "data service: %s", msg)
		}

		return errors.Newf(errors.ErrCodeTransportFailed, "data service returned %d: %s", resp.StatusCode(), msg)
	}

	return nil
}

func deriveStreamURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/v1/stream"
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/v1/stream"
	default:
		return baseURL + "/v1/stream"
	}
}
