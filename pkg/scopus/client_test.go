package scopus

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "scopusharvest/pkg/errors"
	"scopusharvest/pkg/logger"
)

var testQuery = Query{
	Query:     "DOCTYPE(ar)",
	DateRange: "2000-2024",
	Sort:      "-coverDate",
	PageSize:  25,
	View:      "COMPLETE",
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *logger.TestLogger) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	log := logger.NewTestLogger()
	client := NewClient(ClientConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
		Query:   testQuery,
	}, log)
	return client, log
}

func searchBody(next string, n int) string {
	entries := make([]string, n)
	for i := range entries {
		entries[i] = fmt.Sprintf(`{"dc:identifier":"SCOPUS_ID:%d","prism:coverDate":"2024-01-0%d"}`, i, i%9+1)
	}
	cursor := `"cursor":{"@current":"*"}`
	if next != "" {
		cursor = fmt.Sprintf(`"cursor":{"@current":"*","@next":%q}`, next)
	}
	return fmt.Sprintf(`{"search-results":{"opensearch:totalResults":"1234",%s,"entry":[%s]}}`,
		cursor, strings.Join(entries, ","))
}

func TestFetchSendsQueryAndHeaders(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "test-key", r.Header.Get(HeaderAPIKey))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Empty(t, r.Header.Get(HeaderInstToken))

		q := r.URL.Query()
		assert.Equal(t, "DOCTYPE(ar)", q.Get("query"))
		assert.Equal(t, "2000-2024", q.Get("date"))
		assert.Equal(t, "-coverDate", q.Get("sort"))
		assert.Equal(t, "25", q.Get("count"))
		assert.Equal(t, "*", q.Get("cursor"))
		assert.Equal(t, "COMPLETE", q.Get("view"))

		w.Header().Set(HeaderRateLimitRemaining, "39990")
		fmt.Fprint(w, searchBody("AoNEXT", 25))
	})

	page, err := client.Fetch(context.Background(), "*")
	require.NoError(t, err)
	assert.Len(t, page.Records, 25)
	assert.Equal(t, "AoNEXT", page.NextCursor)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(1234), page.TotalResults)
	assert.Equal(t, 39990, page.QuotaRemaining)
	assert.Equal(t, "SCOPUS_ID:0", RecordID(page.Records[0]))
}

func TestFetchSendsInstToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "inst", r.Header.Get(HeaderInstToken))
		fmt.Fprint(w, searchBody("", 1))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "k", InstToken: "inst", Query: testQuery}, logger.NewNopLogger())
	_, err := client.Fetch(context.Background(), "*")
	require.NoError(t, err)
}

func TestFetchEndOfResults(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		cursor  string
		records int
	}{
		{"no next cursor", searchBody("", 10), "AoX", 10},
		{"next equals current", searchBody("AoX", 10), "AoX", 10},
		{"no entries", searchBody("AoY", 0), "AoX", 0},
		{"empty result placeholder", `{"search-results":{"opensearch:totalResults":"0","cursor":{"@next":"AoY"},"entry":[{"@_fa":"true","error":"Result set was empty"}]}}`, "*", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			page, err := client.Fetch(context.Background(), tt.cursor)
			require.NoError(t, err)
			assert.False(t, page.HasMore)
			assert.Len(t, page.Records, tt.records)
		})
	}
}

func TestFetchErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantType  errs.ErrorType
		retryable bool
	}{
		{"too many requests", 429, `{"error-response":{"error-code":"TOO_MANY_REQUESTS","error-message":"Rate limit quota exceeded"}}`, errs.ErrorTypeRateLimit, true},
		{"internal error", 500, `oops`, errs.ErrorTypeServerError, true},
		{"unavailable", 503, ``, errs.ErrorTypeServerError, true},
		{"unauthorized", 401, `{"service-error":{"status":{"statusCode":"AUTHENTICATION_ERROR","statusText":"Invalid API Key"}}}`, errs.ErrorTypeAuth, false},
		{"forbidden", 403, ``, errs.ErrorTypeAuth, false},
		{"malformed query", 400, `{"service-error":{"status":{"statusCode":"INVALID_INPUT","statusText":"Error translating query"}}}`, errs.ErrorTypeBadRequest, false},
		{"expired cursor", 400, `{"service-error":{"status":{"statusCode":"INVALID_INPUT","statusText":"Invalid cursor value"}}}`, errs.ErrorTypeCursorExpired, false},
		{"not found", 404, ``, errs.ErrorTypeNotFound, false},
		{"teapot", 418, ``, errs.ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.Fetch(context.Background(), "*")
			require.Error(t, err)
			assert.Equal(t, tt.wantType, errs.TypeOf(err))
			assert.Equal(t, tt.retryable, errs.IsRetryableError(err))
		})
	}
}

func TestFetchExpiredCursorMatchesSentinel(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"service-error":{"status":{"statusText":"Cursor has expired"}}}`)
	})

	_, err := client.Fetch(context.Background(), "AoOLD")
	assert.ErrorIs(t, err, errs.ErrCursorExpired)
}

func TestFetchParsingErrors(t *testing.T) {
	bodies := map[string]string{
		"not json":          `<html>maintenance</html>`,
		"no search-results": `{"other":{}}`,
		"no entry":          `{"search-results":{"cursor":{"@next":"x"}}}`,
		"entry not array":   `{"search-results":{"entry":{"eid":"1"}}}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			client, log := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			})
			_, err := client.Fetch(context.Background(), "*")
			require.Error(t, err)
			assert.Equal(t, errs.ErrorTypeParsing, errs.TypeOf(err))
			assert.False(t, errs.IsRetryableError(err))
			assert.True(t, log.HasError())
		})
	}
}

func TestFetchNetworkErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(ClientConfig{BaseURL: url, APIKey: "k", Timeout: time.Second, Query: testQuery}, logger.NewNopLogger())
	_, err := client.Fetch(context.Background(), "*")
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeNetwork, errs.TypeOf(err))
	assert.True(t, errs.IsRetryableError(err))
}

func TestFetchCancelledContext(t *testing.T) {
	release := make(chan struct{})
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.Fetch(ctx, "*")
	require.Error(t, err)
	assert.True(t, IsContextError(err))
	assert.False(t, errs.IsRetryableError(err))
}

func TestFetchLogsRateLimit(t *testing.T) {
	client, log := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.Header().Set(HeaderRateLimitReset, "1760630400")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Fetch(context.Background(), "*")
	require.Error(t, err)
	msg, ok := log.FindMessage("Rate limit reached, backing off")
	require.True(t, ok)
	assert.Equal(t, "3", msg.Fields["retry_after"])
	assert.Equal(t, "1760630400", msg.Fields["rate_limit_reset"])
}

func TestFetchRateLimitWithoutHints(t *testing.T) {
	client, log := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Fetch(context.Background(), "*")
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeRateLimit, errs.TypeOf(err))
	msg, ok := log.FindMessage("Rate limit reached, backing off")
	require.True(t, ok)
	assert.NotContains(t, msg.Fields, "retry_after")
	assert.NotContains(t, msg.Fields, "rate_limit_reset")
}
