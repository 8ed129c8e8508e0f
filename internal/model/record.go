// Package model defines the records, source descriptors, and run results shared
// across the acquisition pipeline.
package model

import (
	"strings"
	"time"
)

// DateLayout is the calendar date format used for snapshot keys and issued dates.
const DateLayout = "2006-01-02"

// Record is a single building-permit lead.
type Record struct {
	Identifier     string    `json:"permit_number"`
	Address        string    `json:"address"`
	Category       string    `json:"type"`
	EstimatedValue float64   `json:"value"`
	IssuedAt       time.Time `json:"issued_date"`
	Status         string    `json:"status,omitempty"`
}

// Normalize trims whitespace and truncates IssuedAt to a calendar date. A zero
// IssuedAt is replaced by fetchDate.
func (r Record) Normalize(fetchDate time.Time) Record {
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.Address = strings.Join(strings.Fields(r.Address), " ")
	r.Category = strings.TrimSpace(r.Category)
	r.Status = strings.TrimSpace(r.Status)
	if r.EstimatedValue < 0 {
		r.EstimatedValue = 0
	}
	if r.IssuedAt.IsZero() {
		r.IssuedAt = fetchDate
	}
	r.IssuedAt = TruncateDay(r.IssuedAt)
	return r
}

// TruncateDay returns midnight UTC on the calendar date of t.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
