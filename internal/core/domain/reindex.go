package domain

import "time"

// ReindexReport summarizes one re-index run. Errors are collected instead of
// thrown past the index-build boundary.
type ReindexReport struct {
	RunID      string    `json:"run_id"`
	Trigger    string    `json:"trigger"`
	Pages      int       `json:"pages"`
	Chunks     int       `json:"chunks"`
	Terms      int       `json:"terms"`
	Published  bool      `json:"published"`
	Errors     []string  `json:"errors,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r *ReindexReport) Failed() bool {
	return len(r.Errors) > 0
}

// Lease is the exclusion token for re-index runs, stored next to the index.
type Lease struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (l Lease) Active(now time.Time) bool {
	return l.Holder != "" && now.Before(l.ExpiresAt)
}

type IndexStatus struct {
	Chunks      int    `json:"chunks"`
	Terms       int    `json:"terms"`
	TotalDocs   int    `json:"total_docs"`
	Reindexing  bool   `json:"reindexing"`
	LeaseHolder string `json:"lease_holder,omitempty"`
}

// ReindexRequest is published on the queue to ask a worker for a run.
type ReindexRequest struct {
	ID          string    `json:"id"`
	Trigger     string    `json:"trigger"`
	RequestedAt time.Time `json:"requested_at"`
}
