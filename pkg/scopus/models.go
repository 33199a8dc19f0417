package scopus

import "encoding/json"

// Page is one decoded search response
type Page struct {
	Records      []json.RawMessage
	NextCursor   string
	HasMore      bool
	TotalResults int64
	// QuotaRemaining is the server-reported weekly allowance, -1 when absent
	QuotaRemaining int
}

type searchResponse struct {
	SearchResults *searchResults `json:"search-results"`
}

type searchResults struct {
	TotalResults string          `json:"opensearch:totalResults"`
	Cursor       cursorInfo      `json:"cursor"`
	Entry        json.RawMessage `json:"entry"`
}

type cursorInfo struct {
	Current string `json:"@current"`
	Next    string `json:"@next"`
}

type serviceError struct {
	ServiceError struct {
		Status struct {
			StatusCode string `json:"statusCode"`
			StatusText string `json:"statusText"`
		} `json:"status"`
	} `json:"service-error"`
	ErrorResponse struct {
		StatusCode string `json:"error-code"`
		StatusText string `json:"error-message"`
	} `json:"error-response"`
}

func (s serviceError) message() string {
	if s.ServiceError.Status.StatusText != "" {
		return s.ServiceError.Status.StatusText
	}
	return s.ErrorResponse.StatusText
}

type recordFields struct {
	Identifier string `json:"dc:identifier"`
	EID        string `json:"eid"`
	CoverDate  string `json:"prism:coverDate"`
	Error      string `json:"error"`
}

// RecordID returns dc:identifier, falling back to eid
func RecordID(rec json.RawMessage) string {
	var f recordFields
	if err := json.Unmarshal(rec, &f); err != nil {
		return ""
	}
	if f.Identifier != "" {
		return f.Identifier
	}
	return f.EID
}

// CoverDate returns prism:coverDate or ""
func CoverDate(rec json.RawMessage) string {
	var f recordFields
	if err := json.Unmarshal(rec, &f); err != nil {
		return ""
	}
	return f.CoverDate
}
