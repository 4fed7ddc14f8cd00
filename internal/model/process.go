package model

import "time"

// Process is one judicial process as returned by a DataJud search hit.
type Process struct {
	Number        string     `json:"number"`
	Tribunal      string     `json:"tribunal"`
	Class         string     `json:"class"`
	Court         string     `json:"court"`
	FiledAt       time.Time  `json:"filed_at"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
	Subjects      []string   `json:"subjects,omitempty"`
	Movements     []Movement `json:"movements,omitempty"`
}

// Movement is a single procedural event on a process.
type Movement struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// SearchResult is a decoded DataJud search response.
type SearchResult struct {
	Total     int64     `json:"total"`
	Processes []Process `json:"processes"`
}

// RecentSearch is a persisted record of a past lookup.
type RecentSearch struct {
	Tribunal      string    `json:"tribunal"`
	ProcessNumber string    `json:"process_number"`
	Hits          int64     `json:"hits"`
	At            time.Time `json:"at"`
}
