// Package intent implements the Intent Classifier & Complexity
// Detector (spec §4.8): a regex-based complexity gate plus an
// LLM-ranked, few-shot-steered intent extraction.
package intent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ebongard/renfield/internal/feedback"
	"github.com/ebongard/renfield/internal/llm"
)

// staticIntents are the non-tool-derived intents every taxonomy
// includes, regardless of which capability servers are connected.
var staticIntents = []string{
	"general.conversation",
	"general.smalltalk",
	"general.clarify",
	"memory.recall",
	"memory.store",
}

// fallbackIntent is returned when the LLM's completion is malformed or
// its schema validation never succeeds (spec §4.8 "On malformed output").
var fallbackIntent = IntentCandidate{Name: "general.conversation", Confidence: 1.0, Parameters: map[string]any{}}

// IntentCandidate is one ranked classification result.
type IntentCandidate struct {
	Name       string         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Parameters map[string]any `json:"parameters"`
}

// ToolCatalog supplies the live tool names the classifier adds to its
// taxonomy, satisfied by *mcphub.Hub.
type ToolCatalog interface {
	PromptToolNames() []string
}

// Classifier implements classify(message, room_context, keyword_hints,
// feedback_examples) -> RankedIntents.
type Classifier struct {
	gw       llm.Gateway
	catalog  ToolCatalog
	feedback *feedback.Retriever
}

// New wires a Classifier.
func New(gw llm.Gateway, catalog ToolCatalog, fb *feedback.Retriever) *Classifier {
	return &Classifier{gw: gw, catalog: catalog, feedback: fb}
}

var intentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"intents": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"intent":     map[string]any{"type": "string"},
					"confidence": map[string]any{"type": "number"},
					"parameters": map[string]any{"type": "object"},
				},
				"required": []any{"intent", "confidence"},
			},
		},
	},
	"required": []any{"intents"},
}

// Classify builds the taxonomy + few-shot prompt and returns up to
// three ranked candidates, sorted by confidence descending.
func (c *Classifier) Classify(ctx context.Context, userID, message, roomContext string, keywordHints []string) ([]IntentCandidate, error) {
	examples, err := c.fewShotExamples(ctx, userID)
	if err != nil {
		examples = nil // a feedback lookup failure must not block classification
	}

	prompt := c.buildPrompt(message, roomContext, keywordHints, examples)

	out, err := c.gw.CompleteJSON(ctx, "intent", prompt, intentSchema, llm.Options{})
	if err != nil {
		return []IntentCandidate{fallbackIntent}, nil
	}

	candidates := parseCandidates(out)
	if len(candidates) == 0 {
		return []IntentCandidate{fallbackIntent}, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}
	return candidates, nil
}

// parseCandidates re-marshals the gateway's validated map into
// IntentCandidates, tolerating the loose typing decoded JSON produces
// (float64 confidences, map[string]any parameters).
func parseCandidates(out map[string]any) []IntentCandidate {
	raw, ok := out["intents"].([]any)
	if !ok {
		return nil
	}
	candidates := make([]IntentCandidate, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["intent"].(string)
		if name == "" {
			continue
		}
		confidence, _ := entry["confidence"].(float64)
		params, _ := entry["parameters"].(map[string]any)
		if params == nil {
			params = map[string]any{}
		}
		candidates = append(candidates, IntentCandidate{Name: name, Confidence: confidence, Parameters: params})
	}
	return candidates
}

func (c *Classifier) fewShotExamples(ctx context.Context, userID string) ([]feedback.Correction, error) {
	if c.feedback == nil || userID == "" {
		return nil, nil
	}
	return c.feedback.FewShot(ctx, userID, 5)
}

func (c *Classifier) taxonomy() []string {
	names := append([]string{}, staticIntents...)
	if c.catalog != nil {
		names = append(names, c.catalog.PromptToolNames()...)
	}
	return names
}

func (c *Classifier) buildPrompt(message, roomContext string, keywordHints []string, examples []feedback.Correction) string {
	var b strings.Builder
	b.WriteString("Known intents:\n")
	for _, name := range c.taxonomy() {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	if roomContext != "" {
		fmt.Fprintf(&b, "\nRoom context: %s\n", roomContext)
	}
	if len(keywordHints) > 0 {
		fmt.Fprintf(&b, "\nKnown entities/rooms: %s\n", strings.Join(keywordHints, ", "))
	}
	if len(examples) > 0 {
		b.WriteString("\nPast corrections (avoid repeating these mistakes):\n")
		for _, e := range examples {
			fmt.Fprintf(&b, "- %q was wrongly classified as %q; correct intent is %q\n", e.InputText, e.WrongDecision, e.RightDecision)
		}
	}
	fmt.Fprintf(&b, "\nUser message: %q\n", message)
	b.WriteString("\nRespond with JSON matching {\"intents\": [{\"intent\": string, \"confidence\": number, \"parameters\": object}]}, ranked most confident first.")
	return b.String()
}
