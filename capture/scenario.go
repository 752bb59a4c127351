// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/discovery"
)

// Scenario is a hand-written script of synthetic events. Scenarios
// are authored as JSONC (JSON extended with // line comments,
// /* block comments */, and trailing commas) and replay through the
// same sink interface as recorded captures.
type Scenario struct {
	// Name labels the scenario in output.
	Name string `json:"name"`

	// Source is the instance key the events are attributed to.
	// Optional; DefaultScenarioSource applies when empty.
	Source string `json:"source,omitempty"`

	// Events play in order.
	Events []ScenarioStep `json:"events"`
}

// ScenarioStep is one scripted event envelope.
type ScenarioStep struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// DefaultScenarioSource is the instance key scenarios replay under
// when they do not name one.
const DefaultScenarioSource = discovery.InstanceKey("scenario")

// ParseScenario strips JSONC comments and trailing commas from data,
// then unmarshals and validates the result. Every step must be a
// decodable event of a known type, so typos fail here instead of
// being silently dropped at replay.
func ParseScenario(data []byte) (*Scenario, error) {
	stripped := jsonc.ToJSON(data)

	var scenario Scenario
	if err := json.Unmarshal(stripped, &scenario); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}

	if scenario.Name == "" {
		return nil, fmt.Errorf("scenario has no name")
	}
	if len(scenario.Events) == 0 {
		return nil, fmt.Errorf("scenario %q has no events", scenario.Name)
	}
	for i, step := range scenario.Events {
		if _, err := agentapi.ParseEvent(step.envelope()); err != nil {
			return nil, fmt.Errorf("scenario %q event %d: %w", scenario.Name, i, err)
		}
	}

	return &scenario, nil
}

// LoadScenario reads a JSONC scenario file from disk and parses it.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return scenario, nil
}

// InstanceKey returns the key the scenario's events are attributed
// to.
func (s *Scenario) InstanceKey() discovery.InstanceKey {
	if s.Source != "" {
		return discovery.InstanceKey(s.Source)
	}
	return DefaultScenarioSource
}

// Replay feeds the scenario's events to sink in order and returns the
// number delivered.
func (s *Scenario) Replay(sink EventSink) int {
	source := s.InstanceKey()
	for _, step := range s.Events {
		sink.HandleEvent(source, step.envelope())
	}
	return len(s.Events)
}

func (step ScenarioStep) envelope() agentapi.EventEnvelope {
	return agentapi.EventEnvelope{
		Type:       step.Type,
		Properties: step.Properties,
	}
}
