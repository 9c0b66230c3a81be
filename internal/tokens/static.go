package tokens

import (
	"context"

	"logorender/internal/config"
)

// Static is a fixed token table, typically from configuration.
type Static map[string]Entry

// FromConfig converts configured static tokens.
func FromConfig(m map[string]config.Token) Static {
	out := make(Static, len(m))
	for k, v := range m {
		out[k] = Entry{UserID: v.UserID, RateLimit: v.RateLimit}
	}
	return out
}

// LoadTokens returns a copy of the table.
func (s Static) LoadTokens(ctx context.Context) (map[string]Entry, error) {
	out := make(map[string]Entry, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// Merged loads every repository in order; later entries win. Any failure
// fails the whole load so a partial table never replaces a full one.
type Merged []Repository

// LoadTokens merges all repositories.
func (m Merged) LoadTokens(ctx context.Context) (map[string]Entry, error) {
	out := make(map[string]Entry)
	for _, r := range m {
		part, err := r.LoadTokens(ctx)
		if err != nil {
			return nil, err
		}
		for k, v := range part {
			out[k] = v
		}
	}
	return out, nil
}
