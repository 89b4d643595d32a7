package llm

import (
	"fmt"
	"strings"

	"plancheck/internal/checklist"
	"plancheck/internal/task"
)

const systemPrompt = "You are a compliance auditor for ship recycling plans. Respond only with valid JSON."

// buildPrompt renders the single-requirement audit prompt with the retrieved
// excerpts. Excerpt numbering and page labels let the model cite evidence.
func buildPrompt(req checklist.Requirement, chunks []task.Chunk) string {
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		parts = append(parts, fmt.Sprintf("[Excerpt %d - Page %d]\n%s", i+1, c.Page, c.Content))
	}
	context := strings.Join(parts, "\n\n---\n\n")

	return fmt.Sprintf(`You are checking ONE specific requirement for a Ship Recycling Plan.

**REQUIREMENT ID:** %s

**REQUIREMENT:**
%s

**EXPECTED FIELDS/INFORMATION:**
%s

**REGULATION SOURCE:**
%s

**CHECK TYPE:** %s
**SEVERITY:** %s

**RELEVANT EXCERPTS FROM REPORT:**
%s

**TASK:**
Based on the excerpts above, determine if this requirement is satisfied in the Ship Recycling Plan.

**RESPONSE FORMAT (JSON only):**
{
  "status": "Compliant" | "Non-Compliant" | "Partially Compliant",
  "evidence": "<exact quote from excerpts showing compliance/non-compliance, or 'Not found'>",
  "evidence_pages": [<page numbers where evidence found>],
  "remarks": "<brief explanation of status (max 2 sentences)>"
}

**RULES:**
1. "Compliant" = All expected fields/information present and adequate
2. "Non-Compliant" = Required information missing or inadequate
3. "Partially Compliant" = Some but not all expected fields present, or information incomplete
4. If excerpts don't contain relevant information, state "Not found" in evidence and mark Non-Compliant
5. Evidence must quote exact text from excerpts or state "Not found"
6. Remarks must be concise, specific, and explain the status

Respond with ONLY the JSON object, no other text.`,
		req.ID,
		req.Requirement,
		strings.Join(req.ExpectedFields, ", "),
		req.RegulationSource,
		req.CheckType,
		req.Severity,
		context,
	)
}
