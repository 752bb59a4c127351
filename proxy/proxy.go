// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy forwards HTTP requests to discovered agent servers by
// instance key. It lets one fleetglass endpoint front every instance it
// can see: a request for /instance/{key}/session becomes GET /session
// against that instance's base URL. Responses stream through untouched,
// including server-sent event streams, which are flushed chunk by
// chunk.
package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fleetglass/fleetglass/discovery"
	"github.com/fleetglass/fleetglass/world"
)

// InstanceResolver resolves an instance key to its current record. The
// world engine implements it; resolution happens per request, so the
// proxy always targets the instance's latest known address.
type InstanceResolver interface {
	Instance(key discovery.InstanceKey) (world.Instance, bool)
}

// Config holds the parameters for a Handler.
type Config struct {
	// Resolver maps instance keys to instances. Required.
	Resolver InstanceResolver

	// HTTPClient performs upstream requests. Nil builds a client with
	// no overall timeout; event streams are long-lived.
	HTTPClient *http.Client

	// Logger receives per-request diagnostics. Nil discards.
	Logger *slog.Logger
}

// Handler is the instance proxy. Mount it with both patterns so bare
// and nested paths resolve:
//
//	mux.Handle("/instance/{key}", handler)
//	mux.Handle("/instance/{key}/{path...}", handler)
type Handler struct {
	resolver InstanceResolver
	client   *http.Client
	logger   *slog.Logger
}

// New validates the configuration and builds a Handler.
func New(config Config) (*Handler, error) {
	if config.Resolver == nil {
		return nil, fmt.Errorf("proxy: config.Resolver is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{
			// No overall timeout: SSE responses stay open.
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(request *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Handler{resolver: config.Resolver, client: client, logger: logger}, nil
}

// ServeHTTP forwards one request to the instance named in the path.
func (h *Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	started := time.Now()
	key := request.PathValue("key")
	if key == "" {
		http.Error(writer, "missing instance key", http.StatusNotFound)
		return
	}
	instance, ok := h.resolver.Instance(discovery.InstanceKey(key))
	if !ok {
		http.Error(writer, fmt.Sprintf("unknown instance %q", key), http.StatusNotFound)
		return
	}

	base, err := url.Parse(instance.BaseURL)
	if err != nil {
		h.logger.Error("instance has unusable base URL",
			"instance", key, "baseURL", instance.BaseURL, "error", err)
		http.Error(writer, "instance unusable", http.StatusBadGateway)
		return
	}
	upstreamURL := *base
	upstreamURL.Path = singleJoiningSlash(base.Path, "/"+request.PathValue("path"))
	upstreamURL.RawQuery = request.URL.RawQuery

	upstream, err := http.NewRequestWithContext(request.Context(), request.Method, upstreamURL.String(), request.Body)
	if err != nil {
		http.Error(writer, "failed to build upstream request", http.StatusInternalServerError)
		return
	}
	for name, values := range request.Header {
		if isHopByHop(name) {
			continue
		}
		for _, value := range values {
			upstream.Header.Add(name, value)
		}
	}
	// Identify the proxy without exposing the caller's address.
	upstream.Header.Set("X-Forwarded-For", "fleetglass")

	response, err := h.client.Do(upstream)
	if err != nil {
		h.logger.Warn("upstream request failed",
			"instance", key,
			"method", request.Method,
			"path", upstreamURL.Path,
			"error", err,
		)
		http.Error(writer, fmt.Sprintf("upstream request failed: %v", err), http.StatusBadGateway)
		return
	}
	defer response.Body.Close()

	for name, values := range response.Header {
		if isHopByHop(name) {
			continue
		}
		for _, value := range values {
			writer.Header().Add(name, value)
		}
	}

	if strings.Contains(response.Header.Get("Content-Type"), "text/event-stream") {
		h.streamSSE(writer, response, key)
		return
	}

	writer.WriteHeader(response.StatusCode)
	copied, _ := io.Copy(writer, response.Body)
	h.logger.Debug("proxied request",
		"instance", key,
		"method", request.Method,
		"path", upstreamURL.Path,
		"status", response.StatusCode,
		"bytes", copied,
		"duration", time.Since(started),
	)
}

// streamSSE relays an event stream, flushing every chunk so events
// reach the client as they happen rather than when a buffer fills.
func (h *Handler) streamSSE(writer http.ResponseWriter, response *http.Response, key string) {
	flusher, ok := writer.(http.Flusher)
	if !ok {
		http.Error(writer, "streaming not supported", http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Cache-Control", "no-cache")
	writer.Header().Set("X-Accel-Buffering", "no")
	writer.WriteHeader(response.StatusCode)
	flusher.Flush()

	buffer := make([]byte, 4096)
	var total int64
	for {
		n, err := response.Body.Read(buffer)
		if n > 0 {
			written, writeErr := writer.Write(buffer[:n])
			if writeErr != nil {
				// Client went away; stop reading upstream.
				h.logger.Debug("client left during event stream",
					"instance", key, "bytes", total)
				return
			}
			total += int64(written)
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.logger.Warn("upstream error during event stream",
					"instance", key, "error", err, "bytes", total)
			}
			return
		}
	}
}

// Hop-by-hop headers are connection-scoped and must not be forwarded.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func isHopByHop(name string) bool {
	return hopByHop[strings.ToLower(name)]
}

// singleJoiningSlash joins two URL path segments with exactly one
// slash between them.
func singleJoiningSlash(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	}
	return a + b
}
