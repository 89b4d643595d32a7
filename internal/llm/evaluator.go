// Package llm judges requirements against retrieved document context using
// an OpenAI-compatible chat API.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"plancheck/internal/checklist"
	"plancheck/internal/task"

	openai "github.com/sashabaranov/go-openai"
)

const (
	completionMaxTokens = 1000
	evidenceMatchPrefix = 120
	deterministicSeed   = 42
)

// Evaluator asks the model for a structured compliance verdict, one
// requirement at a time.
type Evaluator struct {
	client *openai.Client
	model  string
}

// NewEvaluator builds an evaluator. baseURL may be empty for the default
// endpoint; tests point it at a local server.
func NewEvaluator(apiKey, baseURL, model string) *Evaluator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Evaluator{client: openai.NewClientWithConfig(cfg), model: model}
}

// verdictPayload mirrors the JSON object the model is instructed to return.
type verdictPayload struct {
	Status        string        `json:"status"`
	Evidence      string        `json:"evidence"`
	EvidencePages []json.Number `json:"evidence_pages"`
	Remarks       string        `json:"remarks"`
}

// Evaluate runs one requirement check. A transport or parse failure is an
// error, distinct from a Non-Compliant finding.
func (e *Evaluator) Evaluate(ctx context.Context, req checklist.Requirement, chunks []task.Chunk) (task.Verdict, error) {
	seed := deterministicSeed
	request := openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req, chunks)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
		Seed:        &seed,
		MaxTokens:   completionMaxTokens,
	}

	resp, err := withRetry(ctx, func() (openai.ChatCompletionResponse, error) {
		return e.client.CreateChatCompletion(ctx, request)
	})
	if err != nil {
		return task.Verdict{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return task.Verdict{}, fmt.Errorf("completion returned no choices")
	}

	var payload verdictPayload
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &payload); err != nil {
		return task.Verdict{}, fmt.Errorf("parse verdict json: %w", err)
	}
	verdict, err := toVerdict(payload)
	if err != nil {
		return task.Verdict{}, err
	}
	enrichEvidencePages(&verdict, chunks)
	return verdict, nil
}

func toVerdict(p verdictPayload) (task.Verdict, error) {
	status := task.ComplianceStatus(p.Status)
	switch status {
	case task.Compliant, task.NonCompliant, task.PartiallyCompliant, task.CheckError:
	default:
		return task.Verdict{}, fmt.Errorf("invalid verdict status: %q", p.Status)
	}
	pages := make([]int, 0, len(p.EvidencePages))
	for _, n := range p.EvidencePages {
		// non-integer page values from the model are ignored
		if v, err := n.Int64(); err == nil {
			pages = append(pages, int(v))
		}
	}
	return task.Verdict{
		Status:        status,
		Evidence:      p.Evidence,
		EvidencePages: pages,
		Remarks:       p.Remarks,
	}, nil
}

// enrichEvidencePages fills in evidence pages by locating the quoted evidence
// inside the retrieved chunks when the model did not attribute pages itself,
// and appends the page list to the remarks.
func enrichEvidencePages(v *task.Verdict, chunks []task.Chunk) {
	evidence := strings.TrimSpace(v.Evidence)
	pages := make(map[int]struct{}, len(v.EvidencePages))
	for _, p := range v.EvidencePages {
		pages[p] = struct{}{}
	}

	if len(pages) == 0 && evidence != "" && !strings.EqualFold(evidence, "not found") {
		snippet := evidence
		if len(snippet) > evidenceMatchPrefix {
			snippet = snippet[:evidenceMatchPrefix]
		}
		for _, c := range chunks {
			if strings.Contains(c.Content, evidence) || strings.Contains(c.Content, snippet) {
				pages[c.Page] = struct{}{}
			}
		}
	}
	if len(pages) == 0 {
		return
	}

	sorted := make([]int, 0, len(pages))
	for p := range pages {
		sorted = append(sorted, p)
	}
	sort.Ints(sorted)
	v.EvidencePages = sorted

	if !strings.Contains(strings.ToLower(v.Remarks), "page") {
		labels := make([]string, len(sorted))
		for i, p := range sorted {
			labels[i] = fmt.Sprint(p)
		}
		remarks := v.Remarks
		if remarks != "" && !strings.HasSuffix(remarks, ".") {
			remarks += "."
		}
		if remarks != "" {
			remarks += " "
		}
		v.Remarks = remarks + "Found on page(s): " + strings.Join(labels, ", ") + "."
	}
}
