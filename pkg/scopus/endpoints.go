package scopus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultBaseURL is the Scopus Search API endpoint
	DefaultBaseURL = "https://api.elsevier.com/content/search/scopus"

	// DefaultPageSize is the number of entries requested per page
	DefaultPageSize = 25

	// MaxPageSize is the largest count the API accepts for the COMPLETE view
	MaxPageSize = 200

	HeaderAPIKey    = "X-ELS-APIKey"
	HeaderInstToken = "X-ELS-Insttoken"

	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// Query holds the search parameters that stay fixed for a harvest
type Query struct {
	Query     string
	DateRange string
	Sort      string
	PageSize  int
	View      string
}

// Values returns the URL parameters for the page at cursor
func (q Query) Values(cursor string) url.Values {
	count := q.PageSize
	if count <= 0 {
		count = DefaultPageSize
	} else if count > MaxPageSize {
		count = MaxPageSize
	}

	params := url.Values{}
	params.Set("query", q.Query)
	if q.DateRange != "" {
		params.Set("date", q.DateRange)
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	params.Set("count", strconv.Itoa(count))
	params.Set("cursor", cursor)
	if q.View != "" {
		params.Set("view", q.View)
	}
	return params
}

// Signature identifies the result set a cursor belongs to. Page size is
// left out since it does not change which records the cursor walks.
func (q Query) Signature() string {
	canonical := strings.Join([]string{
		"query=" + strings.TrimSpace(q.Query),
		"date=" + strings.TrimSpace(q.DateRange),
		"sort=" + strings.TrimSpace(q.Sort),
		"view=" + strings.ToUpper(strings.TrimSpace(q.View)),
	}, "\n")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// SearchURL builds the request URL for cursor
func SearchURL(baseURL string, q Query, cursor string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return fmt.Sprintf("%s?%s", baseURL, q.Values(cursor).Encode())
}
