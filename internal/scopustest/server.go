// Package scopustest provides an in-process stand-in for the Scopus Search
// API with cursor pagination, quota headers and injectable failures.
package scopustest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"

	"scopusharvest/pkg/cursor"
	"scopusharvest/pkg/scopus"
)

// Server serves a fixed result set of Total records
type Server struct {
	server *httptest.Server

	// APIKey, when set, is required on every request
	APIKey string
	// Total is the number of records the query matches
	Total int

	requestCount int32

	mu       sync.Mutex
	failures map[int]int
	cursors  map[string]int
	issued   int
	quota    int
}

// NewServer starts a server for a result set of total records
func NewServer(total int) *Server {
	s := &Server{
		Total:    total,
		failures: make(map[int]int),
		cursors:  make(map[string]int),
		quota:    20000,
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handleSearch))
	return s
}

// URL is the search endpoint base URL
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts the server down
func (s *Server) Close() {
	s.server.Close()
}

// Requests returns how many requests were received
func (s *Server) Requests() int {
	return int(atomic.LoadInt32(&s.requestCount))
}

// FailRequest makes the n-th request (1-based) answer with status
func (s *Server) FailRequest(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[n] = status
}

// ExpireCursors invalidates every cursor issued so far
func (s *Server) ExpireCursors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = make(map[string]int)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	n := int(atomic.AddInt32(&s.requestCount, 1))

	if s.APIKey != "" && r.Header.Get(scopus.HeaderAPIKey) != s.APIKey {
		s.sendError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "Invalid API Key")
		return
	}

	s.mu.Lock()
	status, fail := s.failures[n]
	s.mu.Unlock()
	if fail {
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "1")
		}
		s.sendError(w, status, "GENERAL_SYSTEM_ERROR", http.StatusText(status))
		return
	}

	q := r.URL.Query()
	count, err := strconv.Atoi(q.Get("count"))
	if err != nil || count < 1 {
		count = scopus.DefaultPageSize
	}

	s.mu.Lock()
	offset := 0
	if c := q.Get("cursor"); c != cursor.StartCursor {
		var ok bool
		offset, ok = s.cursors[c]
		if !ok {
			s.mu.Unlock()
			s.sendError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid cursor value")
			return
		}
	}
	end := offset + count
	if end > s.Total {
		end = s.Total
	}
	next := ""
	if offset < s.Total {
		s.issued++
		next = fmt.Sprintf("AoJ%08d", s.issued)
		s.cursors[next] = end
	}
	if s.quota > 0 {
		s.quota--
	}
	quota := s.quota
	s.mu.Unlock()

	entries := make([]map[string]interface{}, 0, end-offset)
	for i := offset; i < end; i++ {
		entries = append(entries, Record(i))
	}
	if len(entries) == 0 {
		entries = append(entries, map[string]interface{}{"@_fa": "true", "error": "Result set was empty"})
	}

	links := map[string]string{"@current": q.Get("cursor")}
	if next != "" {
		links["@next"] = next
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(scopus.HeaderRateLimitRemaining, strconv.Itoa(quota))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"search-results": map[string]interface{}{
			"opensearch:totalResults": strconv.Itoa(s.Total),
			"cursor":                  links,
			"entry":                   entries,
		},
	})
}

// Record is the i-th record of the result set
func Record(i int) map[string]interface{} {
	return map[string]interface{}{
		"dc:identifier":   fmt.Sprintf("SCOPUS_ID:%d", 85000000000+i),
		"eid":             fmt.Sprintf("2-s2.0-%d", 85000000000+i),
		"dc:title":        fmt.Sprintf("Record %d", i),
		"prism:coverDate": fmt.Sprintf("20%02d-01-01", 24-i%25),
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, code, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"service-error": map[string]interface{}{
			"status": map[string]string{
				"statusCode": code,
				"statusText": text,
			},
		},
	})
}
