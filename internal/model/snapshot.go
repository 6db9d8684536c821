package model

import "time"

// Snapshot is one persisted traffic summary. Pointer fields are NULL in the
// database when the payload did not carry a usable value.
type Snapshot struct {
	ID            int64      `json:"id"`
	WindowStart   *time.Time `json:"data_start"`
	WindowEnd     *time.Time `json:"data_end"`
	GranularityMs *int64     `json:"granularity_ms"`
	AnalyticID    *string    `json:"analytic_id"`
	BlockName     *string    `json:"block_name"`
	TotalVehicles int64      `json:"total_vehicles"`
	RawJSON       []byte     `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Event is the compact notification published after each ingest.
type Event struct {
	ReceivedAt    time.Time  `json:"received_at"`
	WindowStart   *time.Time `json:"data_start,omitempty"`
	WindowEnd     *time.Time `json:"data_end,omitempty"`
	AnalyticID    *string    `json:"analytic_id,omitempty"`
	BlockName     *string    `json:"block_name,omitempty"`
	TotalVehicles int64      `json:"total_vehicles"`
	ImageURL      string     `json:"image_url,omitempty"`
}

// NewEvent copies the summary fields of s.
func NewEvent(s Snapshot, receivedAt time.Time, imageURL string) Event {
	return Event{
		ReceivedAt:    receivedAt.UTC(),
		WindowStart:   s.WindowStart,
		WindowEnd:     s.WindowEnd,
		AnalyticID:    s.AnalyticID,
		BlockName:     s.BlockName,
		TotalVehicles: s.TotalVehicles,
		ImageURL:      imageURL,
	}
}
