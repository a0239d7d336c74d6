// Package signal extracts structured payloads that a model embeds at the
// start of an otherwise conversational reply.
//
// A signal is a reserved token line, a separator line holding only "---",
// and a payload: a JSON object for most kinds, a labeled key:value block
// for READY_TO_CREATE.
package signal

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type Kind string

const (
	GenerateActions  Kind = "GENERATE_ACTIONS"
	GenerateAsset    Kind = "GENERATE_ASSET"
	StoreMeasurement Kind = "STORE_MEASUREMENT"
	ReadyToCreate    Kind = "READY_TO_CREATE"
)

// Kinds lists every reserved token.
var Kinds = []Kind{GenerateActions, GenerateAsset, StoreMeasurement, ReadyToCreate}

func lookupKind(line string) (Kind, bool) {
	for _, k := range Kinds {
		if line == string(k) {
			return k, true
		}
	}
	return "", false
}

// Payload is implemented only by the four variant types in this package.
type Payload interface {
	Kind() Kind
	validate() error
}

type Signal struct {
	Kind    Kind
	Payload Payload
}

// Result is the outcome of parsing one model reply.
type Result struct {
	// Signal is nil when the reply carries no reserved token.
	Signal *Signal
	// Text is the whole reply without a signal, or any text after the payload.
	Text string
	// DroppedObjects counts extra JSON objects removed from the text after
	// the payload.
	DroppedObjects int
}

// ParseError reports a reply that announced a signal but did not deliver a
// valid one. Callers must treat it as a failed generation.
type ParseError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signal %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("signal %s: %s", e.Kind, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

type ActionTaskConfig struct {
	Instructions   string `json:"instructions"`
	ExpectedOutput string `json:"expectedOutput"`
}

type GeneratedAction struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Priority    string           `json:"priority,omitempty"`
	TaskType    string           `json:"taskType,omitempty"`
	TaskConfig  ActionTaskConfig `json:"taskConfig"`
}

func (GeneratedAction) Kind() Kind { return GenerateActions }

func (g GeneratedAction) validate() error {
	if err := required(map[string]string{
		"title":                     g.Title,
		"description":               g.Description,
		"taskConfig.instructions":   g.TaskConfig.Instructions,
		"taskConfig.expectedOutput": g.TaskConfig.ExpectedOutput,
	}); err != nil {
		return err
	}
	switch g.Priority {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("priority must be low, medium or high, got %q", g.Priority)
	}
	switch g.TaskType {
	case "", "interactive", "scheduled", "measurement", "manual":
	default:
		return fmt.Errorf("unknown taskType %q", g.TaskType)
	}
	return nil
}

type GeneratedAsset struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Content     string `json:"content"`
}

func (GeneratedAsset) Kind() Kind { return GenerateAsset }

func (g GeneratedAsset) validate() error {
	if err := required(map[string]string{
		"title":       g.Title,
		"description": g.Description,
		"content":     g.Content,
	}); err != nil {
		return err
	}
	switch g.Type {
	case "markdown", "code", "text", "prompt":
		return nil
	}
	return fmt.Errorf("type must be markdown, code, text or prompt, got %q", g.Type)
}

type Dimension struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
	Notes *string `json:"notes,omitempty"`
}

type Measurement struct {
	Dimensions []Dimension `json:"dimensions"`
	Notes      *string     `json:"notes,omitempty"`
}

func (Measurement) Kind() Kind { return StoreMeasurement }

func (m Measurement) validate() error {
	if len(m.Dimensions) == 0 {
		return fmt.Errorf("dimensions must not be empty")
	}
	for i, d := range m.Dimensions {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("dimensions[%d].name is required", i)
		}
		if math.IsNaN(d.Score) || math.IsInf(d.Score, 0) {
			return fmt.Errorf("dimensions[%d].score must be finite", i)
		}
	}
	return nil
}

// Goal is the READY_TO_CREATE payload closing an onboarding conversation.
type Goal struct {
	Title           string
	Goal            string
	SuccessCriteria []string
	Timeline        string
}

func (Goal) Kind() Kind { return ReadyToCreate }

func (g Goal) validate() error {
	if err := required(map[string]string{
		"TITLE":    g.Title,
		"GOAL":     g.Goal,
		"TIMELINE": g.Timeline,
	}); err != nil {
		return err
	}
	if len(g.SuccessCriteria) == 0 {
		return fmt.Errorf("SUCCESS_CRITERIA needs at least one item")
	}
	return nil
}

func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
}
