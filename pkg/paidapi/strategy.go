package paidapi

import (
	"context"

	"likegrab/pkg/models"
	"likegrab/pkg/resolver"
)

// Strategy adapts Client to the resolver chain
type Strategy struct {
	client     *Client
	photosOnly bool
}

// NewStrategy wraps client. With photosOnly, non-photo media are ignored.
func NewStrategy(client *Client, photosOnly bool) *Strategy {
	return &Strategy{client: client, photosOnly: photosOnly}
}

func (s *Strategy) Name() models.Strategy { return models.StrategyPaidAPI }

// Lookup resolves ids. Ids the API reports as deleted or protected, and posts
// without qualifying media, are no-media. Ids absent from both lists are
// left to the next strategy.
func (s *Strategy) Lookup(ctx context.Context, ids []string) ([]resolver.Result, error) {
	resp, err := s.client.Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]resolver.Result, 0, len(ids))
	for _, p := range resp.Posts {
		r := resolver.Result{PostID: p.ID, AuthorHandle: p.AuthorHandle, PostedAt: p.PostedAt}
		for _, m := range p.Media {
			if s.photosOnly && m.Type != "photo" {
				continue
			}
			if m.URL != "" {
				r.MediaURLs = append(r.MediaURLs, m.URL)
			}
		}
		if len(r.MediaURLs) > 0 {
			r.Outcome = resolver.OutcomeResolved
		} else {
			r.Outcome = resolver.OutcomeNoMedia
			r.Reason = "no photo media"
		}
		out = append(out, r)
	}
	for _, m := range resp.Missing {
		r := resolver.Result{PostID: m.ID, Reason: m.Detail}
		switch m.Type {
		case problemNotFound, problemNotAuthed:
			r.Outcome = resolver.OutcomeNoMedia
		default:
			r.Outcome = resolver.OutcomeRetryable
		}
		out = append(out, r)
	}
	return out, nil
}
