package query

import (
	"encoding/json"

	"github.com/shakram02/sqlproxy/internal/classify"
)

type rowsJSON struct {
	Kind      Kind              `json:"kind"`
	QueryType classify.Category `json:"query_type"`
	Columns   []string          `json:"columns"`
	Rows      [][]any           `json:"rows"`
	RowCount  int               `json:"row_count"`
	Truncated bool              `json:"truncated"`
}

type mutationJSON struct {
	Kind         Kind              `json:"kind"`
	QueryType    classify.Category `json:"query_type"`
	AffectedRows int64             `json:"affected_rows"`
	Message      string            `json:"message"`
}

type statusJSON struct {
	Kind      Kind              `json:"kind"`
	QueryType classify.Category `json:"query_type"`
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
}

type dryRunJSON struct {
	Kind      Kind              `json:"kind"`
	QueryType classify.Category `json:"query_type"`
	Success   bool              `json:"success"`
	Plan      []string          `json:"plan"`
	Message   string            `json:"message"`
}

// MarshalJSON writes the fields that belong to r.Kind.
func (r Result) MarshalJSON() ([]byte, error) {
	switch {
	case r.Kind == KindSelect, r.Kind == KindOther && r.Columns != nil:
		rows := r.Rows
		if rows == nil {
			rows = [][]any{}
		}
		columns := r.Columns
		if columns == nil {
			columns = []string{}
		}
		return json.Marshal(rowsJSON{
			Kind:      r.Kind,
			QueryType: r.Category,
			Columns:   columns,
			Rows:      rows,
			RowCount:  r.RowCount,
			Truncated: r.Truncated,
		})

	case r.Kind == KindMutation:
		return json.Marshal(mutationJSON{
			Kind:         r.Kind,
			QueryType:    r.Category,
			AffectedRows: r.AffectedRows,
			Message:      r.Message,
		})

	case r.Kind == KindDryRun:
		plan := r.Plan
		if plan == nil {
			plan = []string{}
		}
		return json.Marshal(dryRunJSON{
			Kind:      r.Kind,
			QueryType: r.Category,
			Success:   r.Success,
			Plan:      plan,
			Message:   r.Message,
		})

	default:
		return json.Marshal(statusJSON{
			Kind:      r.Kind,
			QueryType: r.Category,
			Success:   r.Success,
			Message:   r.Message,
		})
	}
}
