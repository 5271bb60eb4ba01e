package ai

import "fmt"

// extractionPrompt asks the model for structured page data as plain JSON.
// The exact wording matters less than the shape contract, which
// validateAnalysisPayload enforces on the way back.
func extractionPrompt(pageNumber int, documentName, instructions string) string {
	p := fmt.Sprintf(
		"You are indexing page %d of the document %q. "+
			"Extract the page's content as JSON with this shape: "+
			`{"summary": string, "text": string, "entities": [{"name": string, "type": string, "value": string}], "tables": [{"title": string, "rows": [[string]]}]}. `+
			"Use empty arrays when a page has no entities or tables. "+
			"Respond with the JSON object only, no markdown fences.",
		pageNumber, documentName,
	)
	if instructions != "" {
		p += "\n\nAdditional instructions: " + instructions
	}
	return p
}
