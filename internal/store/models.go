package store

// Message is one turn of a session's conversation transcript.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Lesson is one retrospective entry in the global lessons-learned log.
type Lesson struct {
	Date           string `json:"date"`
	Event          string `json:"event"`
	WhatHappened   string `json:"what_happened"`
	Outcome        string `json:"outcome"`
	Lesson         string `json:"lesson"`
	Recommendation string `json:"recommendation"`
}

// TrustScore gates how autonomously the agent may act. AgencyScore is
// derived on every read: approvals/total_proposals * historical_accuracy,
// rounded to two decimals, 0 when no proposals were recorded.
type TrustScore struct {
	Approvals          int     `json:"approvals"`
	TotalProposals     int     `json:"total_proposals"`
	HistoricalAccuracy float64 `json:"historical_accuracy"`
	AgencyScore        float64 `json:"ai_agency_score"`
}

// FileInfo is one entry in a session's uploaded-file index. The file body
// lives under a separate key; the index holds metadata only.
type FileInfo struct {
	Filename   string `json:"filename"`
	Size       int    `json:"size"`
	UploadedAt string `json:"uploaded_at"`
}
