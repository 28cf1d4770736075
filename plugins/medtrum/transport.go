package medtrum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	requestTimeout = 20 * time.Second
	appTag         = "v=3.0.2(15);n=eyvw"
	contentType    = "application/json"
	maxErrorBody   = 512
)

// transport performs exactly one HTTP attempt per call and maps failures
// onto AuthenticationError, CommunicationError and APIError.
type transport struct {
	http    *http.Client
	timeout time.Duration
}

func newTransport(client *http.Client) *transport {
	if client == nil {
		client = &http.Client{}
	}
	return &transport{http: client, timeout: requestTimeout}
}

func defaultHeaders() http.Header {
	h := make(http.Header)
	h.Set("AppTag", appTag)
	h.Set("Accept", contentType)
	h.Set("Content-Type", contentType)
	return h
}

func (t *transport) do(ctx context.Context, method, endpoint string, headers http.Header, body any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Reason: "encode request", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &APIError{Reason: "build request", Err: err}
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthenticationError{Reason: "invalid credentials", Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &CommunicationError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	if !json.Valid(payload) {
		return nil, &APIError{Reason: fmt.Sprintf("decode %s response", method), Err: errors.New("invalid json body")}
	}
	return json.RawMessage(payload), nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &CommunicationError{Reason: "timeout fetching information", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &CommunicationError{Reason: "request canceled", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &CommunicationError{Reason: "timeout fetching information", Err: err}
		}
		return &CommunicationError{Reason: "error fetching information", Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &CommunicationError{Reason: "error fetching information", Err: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &CommunicationError{Reason: "connection closed", Err: err}
	}

	return &APIError{Reason: "unexpected transport failure", Err: err}
}

// decodeJSON decodes with UseNumber so integer fields survive untouched.
func decodeJSON(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}
