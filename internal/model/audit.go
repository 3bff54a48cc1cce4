package model

import "time"

// AuditEntry is one recorded session event. It never carries credentials.
type AuditEntry struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	SubjectID  string    `json:"subject_id"`
	Admin      bool      `json:"admin,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type AuditQuery struct {
	Type      string
	SubjectID string
	From      time.Time
	To        time.Time
	Page      int
	Limit     int
}

type Meta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type AuditListData struct {
	Items []AuditEntry `json:"items"`
	Meta  Meta         `json:"meta"`
}

func NewMeta(page, limit, total int) Meta {
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Meta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}
