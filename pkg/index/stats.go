package index

import "time"

// ScanStats summarizes one scan.
type ScanStats struct {
	Scanned   int       `json:"scanned"`
	Added     int       `json:"added"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	StartTime time.Time `json:"start_time"`
	Duration  float64   `json:"duration"` // seconds
}
