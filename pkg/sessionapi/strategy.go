package sessionapi

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

// NewStrategy wraps client. With photosOnly, video attachments are ignored.
func NewStrategy(client *Client, photosOnly bool) *Strategy {
	return &Strategy{client: client, photosOnly: photosOnly}
}

func (s *Strategy) Name() models.Strategy { return models.StrategySessionAPI }

// Lookup resolves ids. Tombstoned, unavailable and media-less posts are
// reported as no-media.
func (s *Strategy) Lookup(ctx context.Context, ids []string) ([]resolver.Result, error) {
	posts, err := s.client.LookupBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]resolver.Result, 0, len(posts))
	for _, p := range posts {
		r := resolver.Result{PostID: p.ID, AuthorHandle: p.AuthorHandle, PostedAt: p.PostedAt}
		if p.State != StateFound {
			r.Outcome = resolver.OutcomeNoMedia
			r.Reason = p.Reason
			out = append(out, r)
			continue
		}
		for _, m := range p.Media {
			if s.photosOnly && m.Type != "photo" {
				continue
			}
			r.MediaURLs = append(r.MediaURLs, m.URL)
		}
		if len(r.MediaURLs) == 0 {
			r.Outcome = resolver.OutcomeNoMedia
			r.Reason = "no photo media"
			if !s.photosOnly {
				r.Reason = "no media"
			}
		} else {
			r.Outcome = resolver.OutcomeResolved
		}
		out = append(out, r)
	}
	return out, nil
}
