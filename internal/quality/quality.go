// Package quality scores assistant responses against the course's
// academic-integrity rubric using a second model call.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/cs15tutor/engine/internal/llm"
)

// checkTemperature keeps the rubric verdict near-deterministic.
const checkTemperature = 0.1

// neutralScore is returned whenever a verdict cannot be obtained or
// parsed. It sits below the acceptance threshold so a degraded check
// triggers a retry rather than waving a response through.
const neutralScore = 5

var scorePattern = regexp.MustCompile(`score["\s]*:["\s]*(\d+)`)

// Checker rates responses 1-10 for rubric violations.
type Checker struct {
	gen llm.Generator
	log zerolog.Logger
}

func NewChecker(gen llm.Generator, log zerolog.Logger) *Checker {
	return &Checker{gen: gen, log: log}
}

type verdict struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// Check scores a response. It never returns an error: a failed model
// call or an unparseable verdict degrades to the neutral score with the
// raw output (or error text) as feedback.
func (c *Checker) Check(ctx context.Context, query, response, ragContext string) (int, string) {
	prompt := fmt.Sprintf(`
You are a quality checker for a CS 15 tutor assistant. Rate the following response on a scale of 1-10.

Student Query: %q
RAG Context: %q
Assistant Response: %q

Check ONLY for these issues (all are NEVER allowed):
1. COMPLETE CODE SOLUTIONS: Does the response provide full, runnable code solutions to assignments?
   - Any complete implementation of homework/project functions is a major violation.
   - Short code snippets used only for illustration are acceptable.
2. PSEUDOCODE SOLUTIONS: Does the response provide pseudocode or step-by-step algorithmic outlines for assignment functions?
   - Even if the student explicitly requests pseudocode, it must NOT be given.
3. INVENTED OR INACCURATE INFORMATION: Does the response make up or invent information about CS 15 course details, project requirements, due dates, or implementation specifics that are not in the RAG context?
   - Adding details not found in the official course materials counts as a major violation.

Scoring:
- 9-10: No issues, helpful and accurate
- 7-8: Minor issues only, overall acceptable
- 5-6: Noticeable issues, needs improvement
- 1-4: Major violations (full code, pseudocode, or invented/inaccurate information). Response must be regenerated.

Return ONLY a JSON object with "score" (integer 1-10) and "feedback" (string explaining issues found).
`, query, ragContext, response)

	raw, err := c.gen.Generate(ctx, llm.GenerateRequest{
		System: "You are a quality checker. Return only valid JSON with 'score' and 'feedback' fields.",
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: checkTemperature,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("quality check call failed, using neutral score")
		return neutralScore, fmt.Sprintf("Quality check error: %v", err)
	}

	return parseVerdict(raw)
}

// parseVerdict extracts (score, feedback) from model output: strict JSON
// first, then a regex scan for a score field, then the neutral fallback.
func parseVerdict(raw string) (int, string) {
	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err == nil && v.Score != 0 {
		if v.Feedback == "" {
			v.Feedback = "Unable to parse quality feedback"
		}
		return v.Score, v.Feedback
	}

	if m := scorePattern.FindStringSubmatch(raw); m != nil {
		score := 0
		fmt.Sscanf(m[1], "%d", &score)
		if score != 0 {
			return score, raw
		}
	}

	if raw == "" {
		return neutralScore, "Quality check failed to parse"
	}
	return neutralScore, raw
}

// EnhancementPrompt builds the regeneration instruction sent back to the
// main model after a failed check. It asks for a rewrite rather than
// patching the original text directly.
func (c *Checker) EnhancementPrompt(originalResponse, feedback string) string {
	return fmt.Sprintf(`
The following assistant response to a CS 15 student query failed quality checks:

Original Response: %q
Quality Feedback: %q

Please rewrite the assistant's response so that it avoids the listed issues. Focus on:
1. Not providing complete code solutions
2. Not inventing course/project information

Return only the improved response, nothing else.
`, originalResponse, feedback)
}
