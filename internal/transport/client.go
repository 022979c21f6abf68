package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout     = 15 * time.Second
	headerRequestID    = "X-Request-ID"
	headerAuthorize    = "Authorization"
	refreshPath        = "/auth/refresh"
	maxErrorBodyBytes  = 64 << 10
	unreachableMessage = "Unable to reach the server"
	malformedMessage   = "Malformed server response"
)

var (
	errMissingBaseURL = errors.New("transport: base url is required")
	errNoRefreshToken = errors.New("transport: no refresh token")
)

// Config configures the HTTP Caller.
type Config struct {
	BaseURL           string
	HTTPClient        *http.Client
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Tokens            TokenSource
	Logger            *zap.Logger
	NewRequestID      func() (string, error)
}

// Client is the HTTP implementation of Caller. It attaches bearer tokens,
// throttles outbound calls, refreshes an expired access token once per call
// and normalizes every error into a *Failure.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *zap.Logger
	newRequestID func() (string, error)

	tokensMu sync.RWMutex
	tokens   TokenSource
}

// NewClient validates cfg and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	newRequestID := cfg.NewRequestID
	if newRequestID == nil {
		newRequestID = func() (string, error) {
			value, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return value.String(), nil
		}
	}

	return &Client{
		baseURL:      baseURL,
		httpClient:   httpClient,
		limiter:      limiter,
		logger:       logger,
		newRequestID: newRequestID,
		tokens:       cfg.Tokens,
	}, nil
}

// SetTokenSource installs the credentials provider. The session store is
// constructed on top of the client, so it is wired after construction.
func (c *Client) SetTokenSource(tokens TokenSource) {
	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()
	c.tokens = tokens
}

func (c *Client) tokenSource() TokenSource {
	c.tokensMu.RLock()
	defer c.tokensMu.RUnlock()
	return c.tokens
}

// Call implements Caller.
func (c *Client) Call(ctx context.Context, request Request, out any) error {
	response, err := c.do(ctx, request, c.bearer(request))
	if err != nil {
		return err
	}

	if response.status == http.StatusUnauthorized && !request.Anonymous {
		if refreshErr := c.refresh(ctx); refreshErr == nil {
			response, err = c.do(ctx, request, c.bearer(request))
			if err != nil {
				return err
			}
		} else if !errors.Is(refreshErr, errNoRefreshToken) {
			c.logger.Info("access token refresh failed", zap.Error(refreshErr))
		}
	}

	if response.status >= http.StatusBadRequest {
		return decodeFailure(response.status, response.body)
	}
	if out == nil || len(bytes.TrimSpace(response.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.body, out); err != nil {
		return &Failure{Status: response.status, Message: malformedMessage, Err: err}
	}
	return nil
}

type rawResponse struct {
	status int
	body   []byte
}

func (c *Client) do(ctx context.Context, request Request, bearer string) (rawResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return rawResponse{}, &Failure{Message: unreachableMessage, Err: err}
	}

	body, contentType, err := encodeBody(request)
	if err != nil {
		return rawResponse{}, &Failure{Message: defaultFailureMessage, Err: err}
	}

	target := c.baseURL + "/" + strings.TrimLeft(request.Path, "/")
	if len(request.Query) > 0 {
		target += "?" + request.Query.Encode()
	}
	httpRequest, err := http.NewRequestWithContext(ctx, request.Method, target, body)
	if err != nil {
		return rawResponse{}, &Failure{Message: defaultFailureMessage, Err: err}
	}
	httpRequest.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpRequest.Header.Set("Content-Type", contentType)
	}
	if bearer != "" {
		httpRequest.Header.Set(headerAuthorize, "Bearer "+bearer)
	}
	requestID, err := c.newRequestID()
	if err == nil {
		httpRequest.Header.Set(headerRequestID, requestID)
	}

	started := time.Now()
	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		c.logger.Warn("request unreachable",
			zap.String("request_id", requestID),
			zap.String("method", request.Method),
			zap.String("path", request.Path),
			zap.Error(err))
		return rawResponse{}, &Failure{Message: unreachableMessage, Err: err}
	}
	defer httpResponse.Body.Close()

	payload, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return rawResponse{}, &Failure{Message: unreachableMessage, Err: err}
	}

	c.logger.Debug("request completed",
		zap.String("request_id", requestID),
		zap.String("method", request.Method),
		zap.String("path", request.Path),
		zap.Int("status", httpResponse.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	return rawResponse{status: httpResponse.StatusCode, body: payload}, nil
}

func (c *Client) bearer(request Request) string {
	if request.Anonymous {
		return ""
	}
	tokens := c.tokenSource()
	if tokens == nil {
		return ""
	}
	return tokens.AccessToken()
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

func (c *Client) refresh(ctx context.Context) error {
	tokens := c.tokenSource()
	if tokens == nil || tokens.RefreshToken() == "" {
		return errNoRefreshToken
	}
	response, err := c.do(ctx, Request{Method: http.MethodPost, Path: refreshPath}, tokens.RefreshToken())
	if err != nil {
		return err
	}
	if response.status >= http.StatusBadRequest {
		return decodeFailure(response.status, response.body)
	}
	var payload refreshResponse
	if err := json.Unmarshal(response.body, &payload); err != nil {
		return fmt.Errorf("transport: decode refresh response: %w", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return fmt.Errorf("transport: refresh response without access token")
	}
	tokens.SetAccessToken(payload.AccessToken)
	return nil
}

type errorShape struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

func decodeFailure(status int, body []byte) *Failure {
	failure := &Failure{Status: status, Message: defaultFailureMessage}
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	var shape errorShape
	if err := json.Unmarshal(body, &shape); err != nil {
		return failure
	}
	switch {
	case strings.TrimSpace(shape.Error) != "":
		failure.Message = shape.Error
	case strings.TrimSpace(shape.Message) != "":
		failure.Message = shape.Message
	}
	if len(shape.Errors) > 0 {
		failure.Fields = shape.Errors
	}
	return failure
}

func encodeBody(request Request) (io.Reader, string, error) {
	if request.Form != nil {
		return encodeMultipart(request.Form)
	}
	if request.Body == nil {
		return nil, "", nil
	}
	payload, err := json.Marshal(request.Body)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(payload), "application/json", nil
}

func encodeMultipart(form *Form) (io.Reader, string, error) {
	buffer := &bytes.Buffer{}
	writer := multipart.NewWriter(buffer)
	for _, field := range form.Fields {
		if err := writer.WriteField(field.Name, field.Value); err != nil {
			return nil, "", err
		}
	}
	for _, file := range form.Files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Name))
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buffer, writer.FormDataContentType(), nil
}
