package sqlgen

import (
	"context"
	"strings"
)

// Mock answers without calling a model. Questions mentioning users get a
// canned query; everything else gets an explanation only.
type Mock struct{}

var _ Generator = Mock{}

func (Mock) GenerateSQL(ctx context.Context, req Request) (Generation, error) {
	if strings.Contains(strings.ToLower(req.Question), "users") {
		return Generation{
			Content: "Selecting all records from the generic users table.",
			Query:   "SELECT * FROM users ORDER BY id DESC;",
		}, nil
	}
	return Generation{
		Content: "I received your request but I am running in MOCK mode.",
	}, nil
}
