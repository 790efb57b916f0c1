// Package market is a thin GraphQL-over-HTTP adapter for the card marketplace.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Options parameterise the GraphQL client.
type Options struct {
	BaseURL           string
	APIToken          string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// GraphQLClient posts GraphQL documents with bearer auth, per-request timeouts and pacing.
type GraphQLClient struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// GraphQLError is one entry of a GraphQL "errors" array.
type GraphQLError struct {
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
}

// ResponseError wraps the errors array of a failed operation.
type ResponseError struct {
	Operation string
	Errors    []GraphQLError
}

func (e *ResponseError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ge := range e.Errors {
		msgs = append(msgs, ge.Message)
	}
	return fmt.Sprintf("graphql %s: %s", e.Operation, strings.Join(msgs, "; "))
}

// NewGraphQLClient constructs the transport.
func NewGraphQLClient(opts Options, logger zerolog.Logger) *GraphQLClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.sorare.com/graphql"
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &GraphQLClient{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "market_graphql").Logger(),
	}
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// Do executes an operation and decodes its data field into out.
func (c *GraphQLClient) Do(ctx context.Context, operation, query string, variables map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	body, err := json.Marshal(graphQLRequest{Query: query, OperationName: operation, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.opts.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIToken)
	}
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", operation, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", operation, err)
	}
	c.logger.Debug().Str("operation", operation).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("graphql call")

	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(operation, resp.StatusCode, payload)
	}

	var decoded graphQLResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	if len(decoded.Errors) > 0 {
		return &ResponseError{Operation: operation, Errors: decoded.Errors}
	}
	if out == nil {
		return nil
	}
	if len(decoded.Data) == 0 || string(decoded.Data) == "null" {
		return fmt.Errorf("graphql %s: empty data", operation)
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", operation, err)
	}
	return nil
}

func parseHTTPError(operation string, status int, payload []byte) error {
	var decoded graphQLResponse
	if err := json.Unmarshal(payload, &decoded); err == nil && len(decoded.Errors) > 0 {
		return fmt.Errorf("graphql %s (%d): %w", operation, status, &ResponseError{Operation: operation, Errors: decoded.Errors})
	}
	if len(payload) > 0 {
		return fmt.Errorf("graphql %s (%d): %s", operation, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("graphql %s (%d)", operation, status)
}

// IsGraphQLError reports whether err carries a GraphQL errors array.
func IsGraphQLError(err error) bool {
	var re *ResponseError
	return errors.As(err, &re)
}
