// Package model defines the records assembled by a crawl run.
package model

import "time"

// VideoArticle is one playable video associated with a hot-list entry.
// It is assembled once during video-detail processing and not mutated after.
type VideoArticle struct {
	Title     string     `json:"article_title"`
	ShortURL  string     `json:"article_short_url"`
	VideoURL  string     `json:"article_video_url"`
	CreatedAt *time.Time `json:"created_at"`
}

// HotListItem is one trending entry: rank, title, popularity score, view
// count, plus zero or one associated videos. Items are owned by the
// HotListResponse that contains them; an article may be appended only during
// the item's single construction pass.
type HotListItem struct {
	Position   int            `json:"location"`
	Title      string         `json:"list_title"`
	URL        string         `json:"list_url"`
	Popularity int64          `json:"list_popularity"`
	Views      int64          `json:"list_views"`
	Articles   []VideoArticle `json:"article"`
	CreatedAt  *time.Time     `json:"created_at"`
}

// HotListResponse is one completed crawl snapshot. It is the unit stored in
// cache and handed to the output layer.
type HotListResponse struct {
	Items      []HotListItem `json:"list"`
	TotalCount int           `json:"total_count"`
	FetchTime  *time.Time    `json:"fetch_time"`
}

// CrawlResult is the terminal value of one orchestration run.
type CrawlResult struct {
	RunID          string           `json:"run_id"`
	Success        bool             `json:"success"`
	Data           *HotListResponse `json:"data"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	ExecutionTime  float64          `json:"execution_time"`
	ItemsProcessed int              `json:"items_processed"`
	ItemsSuccess   int              `json:"items_success"`
}

// SuccessRate returns the item success percentage, 0 when nothing was
// processed.
func (r CrawlResult) SuccessRate() float64 {
	if r.ItemsProcessed == 0 {
		return 0
	}
	return float64(r.ItemsSuccess) / float64(r.ItemsProcessed) * 100
}
