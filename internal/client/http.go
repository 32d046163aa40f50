// Package client содержит HTTP-адаптеры для синхронных вызовов между сервисами.
package client

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

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/httpapi"
)

const (
	defaultTimeout = 5 * time.Second
	maxErrorBody   = 64 << 10
)

// Option настраивает адаптер.
type Option func(*base)

// WithHTTPClient подменяет http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *base) {
		if c != nil {
			b.http = c
		}
	}
}

// WithRetry задаёт политику повторов GET-запросов.
func WithRetry(cfg RetryConfig) Option {
	return func(b *base) { b.retry = cfg.normalized() }
}

// WithCircuitBreaker задаёт предохранитель. Один предохранитель можно делить между адаптерами одного соседа.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(b *base) {
		if cb != nil {
			b.breaker = cb
		}
	}
}

// base реализует общий HTTP-транспорт адаптеров.
type base struct {
	peer    string
	baseURL string
	http    *http.Client
	retry   RetryConfig
	breaker *CircuitBreaker
	logger  *log.Entry
}

// transientError описывает отказ, который засчитывается предохранителю и допускает повтор GET.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

func newBase(peer, baseURL string, logger *log.Entry, opts ...Option) base {
	if logger == nil {
		logger = log.New().WithField("component", peer+"-client")
	}
	b := base{
		peer:    peer,
		baseURL: strings.TrimRight(baseURL, "/") + httpapi.BasePath,
		http:    &http.Client{Timeout: defaultTimeout},
		retry:   DefaultRetryConfig(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(&b)
	}
	if b.breaker == nil {
		b.breaker = NewCircuitBreaker(5, 10*time.Second, logger)
	}
	return b
}

// call выполняет запрос и декодирует 2xx-ответ в out.
// Ответ с ошибкой превращается в типизированную доменную ошибку по её коду.
func (b *base) call(ctx context.Context, operation, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", operation, err)
		}
		payload = raw
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = b.retry.MaxAttempts
	}
	delay := b.retry.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		var businessErr error
		err := b.breaker.Execute(b.peer+"."+operation, func() error {
			err := b.once(ctx, method, path, payload, out)
			var transient *transientError
			if err != nil && !errors.As(err, &transient) {
				businessErr = err
				return nil
			}
			return err
		})
		if businessErr != nil {
			return businessErr
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			return fmt.Errorf("%w: %s %s: %w", domain.ErrRemoteCall, b.peer, operation, err)
		}
		lastErr = err

		if attempt < attempts {
			b.logger.WithFields(log.Fields{
				"operation": operation,
				"attempt":   attempt,
				"delay":     delay,
			}).WithError(err).Warn("remote call failed, retrying")
			if werr := wait(ctx, delay); werr != nil {
				return fmt.Errorf("%w: %s %s: %w", domain.ErrRemoteCall, b.peer, operation, werr)
			}
			delay = b.retry.next(delay)
		}
	}

	var transient *transientError
	if errors.As(lastErr, &transient) {
		lastErr = transient.err
	}
	return lastErr
}

func (b *base) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return &transientError{err: fmt.Errorf("%w: %s %s: %v", domain.ErrRemoteCall, method, path, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode %s %s: %v", domain.ErrRemoteCall, method, path, err)
		}
		return nil
	}

	remoteErr := decodeError(resp)
	if resp.StatusCode >= http.StatusInternalServerError {
		return &transientError{err: remoteErr}
	}
	return remoteErr
}

// decodeError восстанавливает доменную ошибку из тела {"error","code"}.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body httpapi.ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = fmt.Sprintf("status %d", resp.StatusCode)
	}
	// 404 от прокси или от роутера приходит без нашего кода.
	if resp.StatusCode == http.StatusNotFound && !domain.KnownCode(body.Code) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, body.Error)
	}
	return domain.ErrorFromCode(body.Code, body.Error)
}
