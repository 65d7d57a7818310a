package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// QueryClient asks questions about the analysed recording to the remote query endpoint and streams
// the plain text answer back chunk by chunk.
type QueryClient struct {
	endpoint string

	client  *http.Client
	metrics *Metrics

	logger zerolog.Logger
}

// QueryOption configures a QueryClient.
type QueryOption func(*QueryClient)

var (
	// ErrUnexpectedStatus is returned when the query endpoint answers with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected status from query endpoint")
	// ErrNoBody is returned when the query endpoint answers without a response body.
	ErrNoBody = errors.New("query endpoint returned no body")
)

const chunkBufferSize = 4096

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) QueryOption {
	return func(q *QueryClient) {
		q.client = client
	}
}

// WithMetrics records request outcomes into m.
func WithMetrics(m *Metrics) QueryOption {
	return func(q *QueryClient) {
		q.metrics = m
	}
}

// WithRequestTimeout bounds a whole request, including the time spent streaming the body.
func WithRequestTimeout(d time.Duration) QueryOption {
	return func(q *QueryClient) {
		q.client.Timeout = d
	}
}

// NewQueryClient creates a client for the query endpoint at the given URL.
func NewQueryClient(endpoint string, logger zerolog.Logger, opts ...QueryOption) QueryClient {
	q := QueryClient{
		endpoint: endpoint,
		client:   &http.Client{},
		logger:   logger.With().Str("module", "query").Logger(),
	}
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// QueryURL builds the endpoint URL for a public host, as served by the analysis backend.
func QueryURL(host string) string {
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host + "/query"
	}
	return "https://" + host + "/query"
}

// Endpoint returns the URL the client posts questions to.
func (q QueryClient) Endpoint() string {
	return q.endpoint
}

// Ask posts question to the query endpoint. It returns an error when the request fails or the
// endpoint answers with a non-2xx status or without a body. Otherwise it returns an iterator over
// the decoded text chunks of the streamed answer, in the order they arrive. A multi-byte character
// split across transport chunks is held back until it is complete. The iterator owns the response
// body: callers must range over it to release the connection, and it yields a single error and
// stops if reading the stream fails midway. The context can be used to cancel an ongoing stream.
func (q QueryClient) Ask(ctx context.Context, question string) (iter.Seq2[string, error], error) {
	form := url.Values{}
	form.Set("question", question)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/plain")

	start := time.Now()
	q.metrics.questionAsked()

	resp, err := q.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			q.metrics.streamSettled(outcomeCanceled, time.Since(start))
			return nil, err
		}
		q.metrics.streamSettled(outcomeFailed, time.Since(start))
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		q.logger.Warn().Int("status", resp.StatusCode).Str("endpoint", q.endpoint).Msg("Query endpoint rejected question")
		q.metrics.streamSettled(outcomeFailed, time.Since(start))
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		q.metrics.streamSettled(outcomeFailed, time.Since(start))
		return nil, ErrNoBody
	}

	return func(yield func(string, error) bool) {
		defer resp.Body.Close()
		outcome := q.stream(resp.Body, yield)
		q.metrics.streamSettled(outcome, time.Since(start))
	}, nil
}

func (q QueryClient) stream(body io.Reader, yield func(string, error) bool) string {
	q.metrics.streamStarted()
	defer q.metrics.streamEnded()

	r := transform.NewReader(body, unicode.UTF8.NewDecoder())
	buf := make([]byte, chunkBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			q.metrics.chunkReceived()
			if !yield(string(buf[:n]), nil) {
				return outcomeCanceled
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return outcomeOK
		}
		if errors.Is(err, context.Canceled) {
			yield("", err)
			return outcomeCanceled
		}
		q.logger.Error().Err(err).Msg("Failed to read answer stream")
		yield("", fmt.Errorf("error reading response: %w", err))
		return outcomeFailed
	}
}
