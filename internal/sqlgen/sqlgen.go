// Package sqlgen turns natural-language questions into SQL suggestions using
// a chat model. Generated SQL is only returned, never executed.
package sqlgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shakram02/sqlproxy/internal/dsn"
)

// Request is one question, optionally with schema context and a target
// backend for dialect hints.
type Request struct {
	Question string
	Schema   string
	Backend  dsn.Kind
}

// Generation is the model's explanation and suggested SQL. Query is empty
// for conceptual answers.
type Generation struct {
	Content string `json:"content"`
	Query   string `json:"query"`
}

// Generator produces SQL suggestions.
type Generator interface {
	GenerateSQL(ctx context.Context, req Request) (Generation, error)
}

// userInput is the user message sent to the model.
func userInput(req Request) string {
	var b strings.Builder
	if req.Backend != "" {
		fmt.Fprintf(&b, "Database Type: %s\n\n", req.Backend.DisplayName())
	}
	if req.Schema != "" {
		fmt.Fprintf(&b, "Database Schema:\n%s\n\nUser Question: %s", req.Schema, req.Question)
		return b.String()
	}
	if b.Len() > 0 {
		fmt.Fprintf(&b, "User Question: %s", req.Question)
		return b.String()
	}
	return req.Question
}

// ParseResponse extracts a Generation from raw model output. Markdown code
// fences are stripped first. Output that is not JSON is returned as content
// with an empty query.
func ParseResponse(raw string) Generation {
	clean := raw
	if strings.Contains(clean, "```") {
		clean = strings.ReplaceAll(clean, "```json", "")
		clean = strings.ReplaceAll(clean, "```", "")
		clean = strings.TrimSpace(clean)
	}

	var gen Generation
	if err := json.Unmarshal([]byte(clean), &gen); err != nil {
		return Generation{Content: "Error parsing response: " + raw}
	}
	return gen
}
