package scrape

import (
	"context"

	"likegrab/pkg/models"
	"likegrab/pkg/resolver"
)

// Strategy adapts Client to the resolver chain. It fetches one page per id.
type Strategy struct {
	client *Client
}

func NewStrategy(client *Client) *Strategy {
	return &Strategy{client: client}
}

func (s *Strategy) Name() models.Strategy { return models.StrategyScrape }

func (s *Strategy) Lookup(ctx context.Context, ids []string) ([]resolver.Result, error) {
	out := make([]resolver.Result, 0, len(ids))
	for _, id := range ids {
		page, err := s.client.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		r := resolver.Result{PostID: id, AuthorHandle: page.AuthorHandle}
		switch page.State {
		case PageMedia:
			r.Outcome = resolver.OutcomeResolved
			r.MediaURLs = page.MediaURLs
		case PageMissing:
			r.Outcome = resolver.OutcomeNoMedia
			r.Reason = "status page not found"
		case PageNoMedia:
			r.Outcome = resolver.OutcomeNoMedia
			r.Reason = "no photo media on status page"
		default:
			r.Outcome = resolver.OutcomeRetryable
			r.Reason = "status page carried no post metadata"
		}
		out = append(out, r)
	}
	return out, nil
}
