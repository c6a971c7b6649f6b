package sessionapi

import "time"

// createdAtLayout is the timestamp format of legacy tweet objects
const createdAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

// PostState describes what the server returned for one requested id
type PostState string

const (
	StateFound       PostState = "found"
	StateTombstone   PostState = "tombstone"
	StateUnavailable PostState = "unavailable"
	// StateMissing means the server returned an empty slot for the id
	StateMissing PostState = "missing"
)

// Media is one attachment of a post
type Media struct {
	Type string
	URL  string
}

// Post is the parsed lookup result for one id
type Post struct {
	ID           string
	State        PostState
	Reason       string
	AuthorHandle string
	PostedAt     *time.Time
	Media        []Media
}

// lookupResponse is the GraphQL envelope of a batch lookup
type lookupResponse struct {
	Data struct {
		TweetResult []struct {
			Result *tweetResult `json:"result"`
		} `json:"tweetResult"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type graphQLError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type tweetResult struct {
	TypeName string `json:"__typename"`
	RestID   string `json:"rest_id"`
	// Tweet is set on TweetWithVisibilityResults wrappers
	Tweet  *tweetResult `json:"tweet"`
	Reason string       `json:"reason"`
	Core   struct {
		UserResults struct {
			Result struct {
				Legacy struct {
					ScreenName string `json:"screen_name"`
				} `json:"legacy"`
				Core struct {
					ScreenName string `json:"screen_name"`
				} `json:"core"`
			} `json:"result"`
		} `json:"user_results"`
	} `json:"core"`
	Legacy struct {
		IDStr            string `json:"id_str"`
		CreatedAt        string `json:"created_at"`
		ExtendedEntities struct {
			Media []mediaEntity `json:"media"`
		} `json:"extended_entities"`
	} `json:"legacy"`
	Tombstone *struct {
		Text struct {
			Text string `json:"text"`
		} `json:"text"`
	} `json:"tombstone"`
}

type mediaEntity struct {
	Type          string `json:"type"`
	MediaURLHTTPS string `json:"media_url_https"`
	VideoInfo     struct {
		Variants []struct {
			Bitrate     int    `json:"bitrate"`
			ContentType string `json:"content_type"`
			URL         string `json:"url"`
		} `json:"variants"`
	} `json:"video_info"`
}

// toPost converts one result slot into a Post for id
func toPost(id string, r *tweetResult) Post {
	if r == nil {
		return Post{ID: id, State: StateMissing, Reason: "no result returned"}
	}
	if r.TypeName == "TweetWithVisibilityResults" && r.Tweet != nil {
		r = r.Tweet
	}

	switch r.TypeName {
	case "TweetTombstone":
		reason := "tombstone"
		if r.Tombstone != nil && r.Tombstone.Text.Text != "" {
			reason = r.Tombstone.Text.Text
		}
		return Post{ID: id, State: StateTombstone, Reason: reason}
	case "TweetUnavailable":
		reason := "unavailable"
		if r.Reason != "" {
			reason = r.Reason
		}
		return Post{ID: id, State: StateUnavailable, Reason: reason}
	}

	p := Post{ID: id, State: StateFound}
	user := r.Core.UserResults.Result
	p.AuthorHandle = user.Legacy.ScreenName
	if p.AuthorHandle == "" {
		p.AuthorHandle = user.Core.ScreenName
	}
	if t, err := time.Parse(createdAtLayout, r.Legacy.CreatedAt); err == nil {
		t = t.UTC()
		p.PostedAt = &t
	}

	for _, m := range r.Legacy.ExtendedEntities.Media {
		switch m.Type {
		case "photo":
			if m.MediaURLHTTPS != "" {
				p.Media = append(p.Media, Media{Type: m.Type, URL: m.MediaURLHTTPS})
			}
		case "video", "animated_gif":
			if u := bestVariant(m); u != "" {
				p.Media = append(p.Media, Media{Type: m.Type, URL: u})
			}
		}
	}
	return p
}

// bestVariant picks the highest bitrate mp4 rendition
func bestVariant(m mediaEntity) string {
	best, rate := "", -1
	for _, v := range m.VideoInfo.Variants {
		if v.ContentType != "video/mp4" || v.URL == "" {
			continue
		}
		if v.Bitrate > rate {
			best, rate = v.URL, v.Bitrate
		}
	}
	return best
}
