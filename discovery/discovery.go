// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery locates running agent servers.
//
// Local servers are found by scanning listening TCP ports for known
// process names and probing each candidate's project endpoint; remote
// servers come from the manual registry and are probed with a longer
// timeout. A candidate is accepted only when it reports a real project
// directory, which filters out unrelated HTTP servers that happen to
// be listening. A scan never fails because one candidate misbehaves:
// probe failures drop the candidate, and a broken local enumeration
// degrades to the remote-only view.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/registry"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultProbeTimeout       = 500 * time.Millisecond
	DefaultRemoteProbeTimeout = 2 * time.Second
	DefaultMaxProbes          = 5
)

// Source distinguishes how an instance was found.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// InstanceKey identifies one instance across scan passes. Local
// instances are keyed by their loopback listen address, remotes by
// their proxy address or URL host. Stable as long as the server keeps
// its address.
type InstanceKey string

// Instance is one verified agent server.
type Instance struct {
	Key     InstanceKey `json:"key"`
	BaseURL string      `json:"baseURL"`
	Source  Source      `json:"source"`

	// Directory and ProjectName come from the verification probe.
	Directory   string `json:"directory"`
	ProjectName string `json:"projectName,omitempty"`
	VCS         string `json:"vcs,omitempty"`

	// Port and PID are set for local instances.
	Port int `json:"port,omitempty"`
	PID  int `json:"pid,omitempty"`

	// Name, ProxyAddress, and RemoteURL are set for registered
	// remotes. RemoteURL is the registry identity; BaseURL is where
	// the server was actually reached (the proxy address when set).
	Name         string `json:"name,omitempty"`
	ProxyAddress string `json:"proxyAddress,omitempty"`
	RemoteURL    string `json:"remoteURL,omitempty"`

	// Sessions is populated when the scan requested session
	// enrichment; Messages additionally when full detail was
	// requested, keyed by session ID.
	Sessions []agentapi.Session                     `json:"sessions,omitempty"`
	Messages map[string][]agentapi.MessageWithParts `json:"messages,omitempty"`
}

// DisplayName returns the best human-readable label for the instance.
func (i Instance) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	if i.ProjectName != "" {
		return i.ProjectName
	}
	if i.Directory != "" {
		return filepath.Base(i.Directory)
	}
	return string(i.Key)
}

// RemoteSource lists manually registered remote servers. Implemented
// by *registry.Store.
type RemoteSource interface {
	List(ctx context.Context) ([]registry.Remote, error)
}

// Config holds the parameters for a Discoverer.
type Config struct {
	// Scanner enumerates local candidate listeners. Required.
	Scanner Scanner

	// Remotes supplies registered remote servers. Nil disables remote
	// discovery.
	Remotes RemoteSource

	// HTTPClient is used for verification probes. Nil uses
	// http.DefaultClient. Probe deadlines come from per-candidate
	// timeout contexts, not from the client.
	HTTPClient *http.Client

	// Logger receives per-candidate probe outcomes at debug level.
	// Nil discards.
	Logger *slog.Logger

	// ProbeTimeout bounds each local verification probe. Defaults to
	// DefaultProbeTimeout.
	ProbeTimeout time.Duration

	// RemoteProbeTimeout bounds each remote verification probe.
	// Remotes may be off-host, so the default is longer. Defaults to
	// DefaultRemoteProbeTimeout.
	RemoteProbeTimeout time.Duration

	// MaxProbes caps concurrently in-flight probes. Defaults to
	// DefaultMaxProbes.
	MaxProbes int
}

// Discoverer runs discovery passes. Safe for concurrent use; the
// engine calls Scan from its poll loop and CLI commands call it
// one-shot.
type Discoverer struct {
	scanner            Scanner
	remotes            RemoteSource
	httpClient         *http.Client
	logger             *slog.Logger
	probeTimeout       time.Duration
	remoteProbeTimeout time.Duration
	maxProbes          int
}

// New validates the configuration and builds a Discoverer.
func New(config Config) (*Discoverer, error) {
	if config.Scanner == nil {
		return nil, fmt.Errorf("discovery: Scanner is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	probeTimeout := config.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	remoteProbeTimeout := config.RemoteProbeTimeout
	if remoteProbeTimeout <= 0 {
		remoteProbeTimeout = DefaultRemoteProbeTimeout
	}
	maxProbes := config.MaxProbes
	if maxProbes <= 0 {
		maxProbes = DefaultMaxProbes
	}
	return &Discoverer{
		scanner:            config.Scanner,
		remotes:            config.Remotes,
		httpClient:         httpClient,
		logger:             logger,
		probeTimeout:       probeTimeout,
		remoteProbeTimeout: remoteProbeTimeout,
		maxProbes:          maxProbes,
	}, nil
}

// ScanOptions selects optional enrichment for a scan pass.
type ScanOptions struct {
	// IncludeSessions attaches each instance's session list.
	IncludeSessions bool

	// IncludeMessages additionally fetches every session's messages
	// with parts. Implies IncludeSessions. Meant for one-shot
	// inspection, not the poll loop.
	IncludeMessages bool
}

// Scan runs one discovery pass and returns the verified instances
// sorted by key. Individual probe failures filter the candidate and
// never fail the pass. A local enumeration failure still returns
// whatever the remote registry verified, alongside the scan error;
// callers treat that as a degraded pass, not a fatal one.
func (d *Discoverer) Scan(ctx context.Context, options ScanOptions) ([]Instance, error) {
	var candidates []candidate
	seen := make(map[InstanceKey]bool)

	listeners, scanErr := d.scanner.Listeners(ctx)
	if scanErr != nil {
		scanErr = fmt.Errorf("discovery: local scan: %w", scanErr)
		d.logger.Warn("local listener scan failed", "error", scanErr)
	}
	for _, listener := range listeners {
		key := InstanceKey("127.0.0.1:" + strconv.Itoa(listener.Port))
		if seen[key] {
			continue
		}
		seen[key] = true
		candidates = append(candidates, candidate{
			key:     key,
			baseURL: "http://" + string(key),
			source:  SourceLocal,
			port:    listener.Port,
			pid:     listener.PID,
		})
	}

	if d.remotes != nil {
		remotes, err := d.remotes.List(ctx)
		if err != nil {
			d.logger.Warn("listing registered remotes failed", "error", err)
		}
		for _, remote := range remotes {
			c, err := remoteCandidate(remote)
			if err != nil {
				d.logger.Warn("skipping unusable remote", "url", remote.URL, "error", err)
				continue
			}
			if seen[c.key] {
				continue
			}
			seen[c.key] = true
			candidates = append(candidates, c)
		}
	}

	results := make([]*Instance, len(candidates))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.maxProbes)
	for i, c := range candidates {
		group.Go(func() error {
			results[i] = d.probe(groupCtx, c, options)
			return nil
		})
	}
	group.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var instances []Instance
	for _, result := range results {
		if result != nil {
			instances = append(instances, *result)
		}
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Key < instances[j].Key
	})
	return instances, scanErr
}

type candidate struct {
	key          InstanceKey
	baseURL      string
	source       Source
	port         int
	pid          int
	name         string
	proxyAddress string
	registryURL  string
}

// remoteCandidate turns a registry record into a probe candidate. The
// probe dials the proxy address when one is set; the registry URL
// stays on the instance as its identity.
func remoteCandidate(remote registry.Remote) (candidate, error) {
	baseURL := remote.URL
	key := InstanceKey("")
	if remote.ProxyAddress != "" {
		baseURL = "http://" + remote.ProxyAddress
		key = InstanceKey(remote.ProxyAddress)
	} else {
		parsed, err := url.Parse(remote.URL)
		if err != nil || parsed.Host == "" {
			return candidate{}, fmt.Errorf("discovery: remote URL %q has no host", remote.URL)
		}
		key = InstanceKey(parsed.Host)
	}
	return candidate{
		key:          key,
		baseURL:      strings.TrimRight(baseURL, "/"),
		source:       SourceRemote,
		name:         remote.Name,
		proxyAddress: remote.ProxyAddress,
		registryURL:  remote.URL,
	}, nil
}

// probe verifies one candidate and, on acceptance, applies the
// requested enrichment. Returns nil when the candidate is not a usable
// agent server.
func (d *Discoverer) probe(ctx context.Context, c candidate, options ScanOptions) *Instance {
	timeout := d.probeTimeout
	if c.source == SourceRemote {
		timeout = d.remoteProbeTimeout
	}

	client, err := agentapi.NewClient(agentapi.ClientConfig{
		BaseURL:    c.baseURL,
		HTTPClient: d.httpClient,
	})
	if err != nil {
		d.logger.Debug("probe rejected", "url", c.baseURL, "error", err)
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	info, err := client.ProjectCurrent(probeCtx)
	if err != nil {
		d.logger.Debug("probe failed", "url", c.baseURL, "error", err)
		return nil
	}

	directory := strings.TrimSpace(info.Directory)
	if directory == "" || filepath.Clean(directory) == "/" {
		d.logger.Debug("probe rejected: no project directory", "url", c.baseURL)
		return nil
	}

	instance := &Instance{
		Key:          c.key,
		BaseURL:      c.baseURL,
		Source:       c.source,
		Directory:    directory,
		ProjectName:  info.Name,
		VCS:          info.VCS,
		Port:         c.port,
		PID:          c.pid,
		Name:         c.name,
		ProxyAddress: c.proxyAddress,
		RemoteURL:    c.registryURL,
	}

	if options.IncludeSessions || options.IncludeMessages {
		d.enrich(ctx, client, instance, options, timeout)
	}
	return instance
}

// enrich attaches session (and optionally message) detail to a
// verified instance. Enrichment is best-effort: failures log at debug
// and leave the instance accepted with whatever was fetched.
func (d *Discoverer) enrich(ctx context.Context, client *agentapi.Client, instance *Instance, options ScanOptions, timeout time.Duration) {
	sessionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sessions, err := client.Sessions(sessionCtx)
	if err != nil {
		d.logger.Debug("session enrichment failed", "key", instance.Key, "error", err)
		return
	}
	instance.Sessions = sessions

	if !options.IncludeMessages {
		return
	}
	instance.Messages = make(map[string][]agentapi.MessageWithParts, len(sessions))
	for _, session := range sessions {
		messageCtx, cancel := context.WithTimeout(ctx, timeout)
		messages, err := client.Messages(messageCtx, session.ID)
		cancel()
		if err != nil {
			d.logger.Debug("message enrichment failed",
				"key", instance.Key,
				"session", session.ID,
				"error", err,
			)
			continue
		}
		instance.Messages[session.ID] = messages
	}
}
