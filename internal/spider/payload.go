package spider

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/mingtechpro/douyin-trends/internal/errs"
)

// URL fragments identifying the XHR responses the session listens for.
const (
	apiSearchList  = "search/list"
	apiAwemeDetail = "aweme/detail"
)

// Hot-list payload field names.
const (
	fieldSentenceID = "sentence_id"
	fieldWord       = "word"
	fieldPosition   = "position"
	fieldHotValue   = "hot_value"
	fieldViewCount  = "view_count"

	fieldAwemeDetail = "aweme_detail"
	fieldAwemeID     = "aweme_id"
	fieldDesc        = "desc"
)

// parseHotList decodes the hot-list payload and returns its raw item list.
// Items stay loosely typed: the remote shape drifts, so each one is
// validated and coerced individually.
func parseHotList(body []byte) ([]map[string]any, error) {
	var env struct {
		Data *struct {
			WordList []map[string]any `json:"word_list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errs.Parse("hot list payload is not valid JSON").Wrap(err)
	}
	if env.Data == nil {
		return nil, errs.Validation("hot list payload missing data field")
	}
	return env.Data.WordList, nil
}

// parseVideoDetail decodes a video-detail payload and returns its
// aweme_detail object, or nil when absent or undecodable.
func parseVideoDetail(body []byte) map[string]any {
	var env map[string]any
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	detail, _ := env[fieldAwemeDetail].(map[string]any)
	return detail
}

// itemDraft is the validated scalar view of one raw hot-list item, extracted
// before a HotListItem is constructed.
type itemDraft struct {
	ID         string
	Title      string
	Position   int
	Popularity int64
	Views      int64
}

// validateItem checks a raw hot-list item and returns its coerced fields.
// Every required field must be present and non-null, the numeric fields must
// coerce cleanly, position must be positive, counts non-negative, and the
// cleaned title must be 1..200 characters.
func validateItem(raw map[string]any) (itemDraft, error) {
	id, ok := stringField(raw, fieldSentenceID)
	if !ok || id == "" {
		return itemDraft{}, errs.Validation("item missing sentence id")
	}
	word, ok := stringField(raw, fieldWord)
	if !ok {
		return itemDraft{}, errs.Validation("item missing title")
	}
	position, ok := intField(raw, fieldPosition)
	if !ok {
		return itemDraft{}, errs.Validation("item position is not numeric")
	}
	hotValue, ok := intField(raw, fieldHotValue)
	if !ok {
		return itemDraft{}, errs.Validation("item hot value is not numeric")
	}
	viewCount, ok := intField(raw, fieldViewCount)
	if !ok {
		return itemDraft{}, errs.Validation("item view count is not numeric")
	}

	if position <= 0 {
		return itemDraft{}, errs.Validation("item position must be positive").
			With("position", position)
	}
	if hotValue < 0 || viewCount < 0 {
		return itemDraft{}, errs.Validation("item counters must be non-negative").
			With("hot_value", hotValue).
			With("view_count", viewCount)
	}

	title := CleanText(word)
	if n := len([]rune(title)); n == 0 || n > 200 {
		return itemDraft{}, errs.Validation("item title length out of range").
			With("length", n)
	}

	return itemDraft{
		ID:         id,
		Title:      title,
		Position:   int(position),
		Popularity: hotValue,
		Views:      viewCount,
	}, nil
}

// stringField reads a string-coercible field. Numeric ids arrive as either
// strings or numbers depending on the payload variant.
func stringField(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

// intField reads an integer-coercible field.
func intField(raw map[string]any, key string) (int64, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	case int:
		return int64(t), true
	case int64:
		return t, true
	default:
		return 0, false
	}
}

// nestedValue walks a loosely-typed JSON graph along path, where each step
// is a map key (string) or list index (int). Any missing or mistyped step
// yields nil.
func nestedValue(data any, path ...any) any {
	cur := data
	for _, step := range path {
		switch key := step.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil
			}
			cur, ok = m[key]
			if !ok {
				return nil
			}
		case int:
			list, ok := cur.([]any)
			if !ok || key < 0 || key >= len(list) {
				return nil
			}
			cur = list[key]
		default:
			return nil
		}
	}
	return cur
}

// extractPlayURL pulls the first playable URL out of a video-detail object.
// Missing intermediate levels yield "".
func extractPlayURL(detail map[string]any) string {
	v := nestedValue(detail, "video", "bit_rate", 0, "play_addr", "url_list", 0)
	s, _ := v.(string)
	return s
}

// awemeID returns the trimmed video id from a video-detail object, or "".
func awemeID(detail map[string]any) string {
	if detail == nil {
		return ""
	}
	id, ok := stringField(detail, fieldAwemeID)
	if !ok {
		return ""
	}
	return id
}
