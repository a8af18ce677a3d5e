package types

// TabID is a stable, process-lifetime-unique identifier for a browser tab.
// IDs are assigned by the capture client when a tab is first observed and are
// never reused while the daemon runs.
type TabID int

// TabInfo holds metadata about a browser tab.
type TabInfo struct {
	ID       TabID  `json:"tab_id"`
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}
