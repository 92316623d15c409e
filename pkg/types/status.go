package types

// StatusSnapshot is a read-only view of the job queue.
type StatusSnapshot struct {
	QueueLength int           `json:"queue_length"`
	Processing  bool          `json:"processing"`
	Active      int           `json:"active"`
	Workers     int           `json:"workers"`
	Mode        string        `json:"mode"`
	Jobs        []JobSnapshot `json:"jobs"`
	Recent      []JobSnapshot `json:"recent"`
	Totals      JobTotals     `json:"totals"`
}

// JobTotals counts outcomes since the queue was created.
type JobTotals struct {
	Enqueued  int64 `json:"enqueued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
}
