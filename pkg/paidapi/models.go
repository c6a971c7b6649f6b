package paidapi

import "time"

// Post is one post returned by the lookup endpoint
type Post struct {
	ID           string
	AuthorHandle string
	PostedAt     *time.Time
	Media        []Media
}

// Media is one expanded attachment
type Media struct {
	Key  string
	Type string
	URL  string
}

// Missing is an id the API reported as not retrievable
type Missing struct {
	ID     string
	Type   string
	Detail string
}

// Response is the parsed result of one lookup or liked-posts call
type Response struct {
	Posts   []Post
	Missing []Missing
	// NextToken is set on paginated responses that have more pages
	NextToken string
}

type tweetsResponse struct {
	Data []struct {
		ID          string `json:"id"`
		AuthorID    string `json:"author_id"`
		CreatedAt   string `json:"created_at"`
		Attachments struct {
			MediaKeys []string `json:"media_keys"`
		} `json:"attachments"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
		Media []struct {
			MediaKey string `json:"media_key"`
			Type     string `json:"type"`
			URL      string `json:"url"`
		} `json:"media"`
	} `json:"includes"`
	Errors []apiError `json:"errors"`
	Meta   struct {
		NextToken   string `json:"next_token"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

type userResponse struct {
	Data struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

// apiError is a per-resource error entry or a problem document
type apiError struct {
	Value        string `json:"value"`
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`
	Title        string `json:"title"`
	Detail       string `json:"detail"`
	Type         string `json:"type"`
}

const (
	problemNotFound     = "https://api.twitter.com/2/problems/resource-not-found"
	problemNotAuthed    = "https://api.twitter.com/2/problems/not-authorized-for-resource"
	problemUsageCap     = "https://api.twitter.com/2/problems/usage-capped"
	titleUsageCapExceed = "UsageCapExceeded"
)

func (r *tweetsResponse) toResponse() *Response {
	users := make(map[string]string, len(r.Includes.Users))
	for _, u := range r.Includes.Users {
		users[u.ID] = u.Username
	}
	media := make(map[string]Media, len(r.Includes.Media))
	for _, m := range r.Includes.Media {
		media[m.MediaKey] = Media{Key: m.MediaKey, Type: m.Type, URL: m.URL}
	}

	out := &Response{NextToken: r.Meta.NextToken}
	for _, t := range r.Data {
		p := Post{ID: t.ID, AuthorHandle: users[t.AuthorID]}
		if ts, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
			ts = ts.UTC()
			p.PostedAt = &ts
		}
		for _, k := range t.Attachments.MediaKeys {
			if m, ok := media[k]; ok {
				p.Media = append(p.Media, m)
			}
		}
		out.Posts = append(out.Posts, p)
	}
	for _, e := range r.Errors {
		id := e.ResourceID
		if id == "" {
			id = e.Value
		}
		if id == "" {
			continue
		}
		out.Missing = append(out.Missing, Missing{ID: id, Type: e.Type, Detail: e.Detail})
	}
	return out
}
