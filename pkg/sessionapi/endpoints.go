package sessionapi

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultBaseURL is the web client origin
	DefaultBaseURL = "https://x.com"

	// DefaultQueryID identifies the TweetResultsByRestIds GraphQL operation
	DefaultQueryID = "Xl5pC_lBk_gcO2ItU39DQw"

	// OperationName is the GraphQL operation used for batch lookups
	OperationName = "TweetResultsByRestIds"

	// MaxBatchSize is the largest id list the operation accepts
	MaxBatchSize = 100
)

// features mirrors the feature switches the web client sends with the
// operation. Unknown switches are rejected by the server with a 400.
var features = map[string]bool{
	"creator_subscriptions_tweet_preview_api_enabled":                         true,
	"communities_web_enable_tweet_community_results_fetch":                    true,
	"c9s_tweet_anatomy_moderator_badge_enabled":                               true,
	"articles_preview_enabled":                                                true,
	"tweetypie_unmention_optimization_enabled":                                true,
	"responsive_web_edit_tweet_api_enabled":                                   true,
	"graphql_is_translatable_rweb_tweet_is_translatable_enabled":              true,
	"view_counts_everywhere_api_enabled":                                      true,
	"longform_notetweets_consumption_enabled":                                 true,
	"responsive_web_twitter_article_tweet_consumption_enabled":                true,
	"tweet_awards_web_tipping_enabled":                                        false,
	"creator_subscriptions_quote_tweet_preview_enabled":                       false,
	"freedom_of_speech_not_reach_fetch_enabled":                               true,
	"standardized_nudges_misinfo":                                             true,
	"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
	"rweb_video_timestamps_enabled":                                           true,
	"longform_notetweets_rich_text_read_enabled":                              true,
	"longform_notetweets_inline_media_enabled":                                true,
	"rweb_tipjar_consumption_enabled":                                         true,
	"responsive_web_graphql_exclude_directive_enabled":                        true,
	"verified_phone_label_enabled":                                            false,
	"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
	"responsive_web_graphql_timeline_navigation_enabled":                      true,
	"responsive_web_enhance_cards_enabled":                                    false,
}

// LookupURL builds the batch lookup URL for ids
func LookupURL(baseURL, queryID string, ids []string) (string, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if queryID == "" {
		queryID = DefaultQueryID
	}

	variables, err := json.Marshal(map[string]interface{}{
		"tweetIds":               ids,
		"withCommunity":          false,
		"includePromotedContent": false,
		"withVoice":              false,
	})
	if err != nil {
		return "", fmt.Errorf("encode variables: %w", err)
	}
	feats, err := json.Marshal(features)
	if err != nil {
		return "", fmt.Errorf("encode features: %w", err)
	}

	params := url.Values{}
	params.Set("variables", string(variables))
	params.Set("features", string(feats))

	return fmt.Sprintf("%s/i/api/graphql/%s/%s?%s",
		strings.TrimRight(baseURL, "/"), url.PathEscape(queryID), OperationName, params.Encode()), nil
}
