// Package directory resolves user searches against the server and turns
// a picked candidate into a conversation seed. Search hits never create
// server-side state; a seeded conversation stays ephemeral until the
// first message is exchanged.
package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/innosphere/chatsync/internal/rest"
	"github.com/innosphere/chatsync/internal/store"
	"go.uber.org/zap"
)

// Candidate is one directory search hit.
type Candidate struct {
	ID        int64
	Name      string
	Role      string
	AvatarURL string
}

// Resolver runs directory searches and seeds conversations from picks.
type Resolver struct {
	api    *rest.Client
	st     *store.Store
	logger *zap.Logger
}

// NewResolver creates a search resolver.
func NewResolver(api *rest.Client, st *store.Store, logger *zap.Logger) *Resolver {
	return &Resolver{
		api:    api,
		st:     st,
		logger: logger,
	}
}

// Search queries the user directory. The caller's own account is
// filtered out of the results.
func (r *Resolver) Search(ctx context.Context, query string) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	users, err := r.api.SearchUsers(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("directory search: %w", err)
	}

	var out []Candidate
	for _, u := range users {
		if u.ID == r.st.SelfID() {
			continue
		}
		out = append(out, Candidate{
			ID:        u.ID,
			Name:      u.Name,
			Role:      u.Role,
			AvatarURL: u.ProfileImage,
		})
	}
	r.logger.Debug("directory search",
		zap.String("query", query),
		zap.Int("hits", len(out)))
	return out, nil
}

// Select turns a search hit into a conversation. An existing thread
// with the same counterpart is returned as-is; otherwise an ephemeral
// conversation is seeded.
func (r *Resolver) Select(c Candidate) store.Conversation {
	return r.st.SeedEphemeral(store.Conversation{
		CounterpartID: c.ID,
		Name:          c.Name,
		Role:          c.Role,
		AvatarURL:     c.AvatarURL,
		Ephemeral:     true,
	})
}
