package model

// QueueStats reports the length of each status list. Counts are snapshots
// taken list by list, not a consistent view.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}

// Total returns the sum of all status counts.
func (s *QueueStats) Total() int64 {
	return s.Pending + s.Processing + s.Completed + s.Failed + s.Cancelled
}
