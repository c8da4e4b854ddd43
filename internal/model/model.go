package model

// Rule is the detection rule that produced a signal.
type Rule struct {
	ID          string
	Name        string
	Description string
}

// SourceAlert is a detection signal as read from Elasticsearch.
type SourceAlert struct {
	ID        string // _id, the dedup key
	Index     string // _index the hit came from
	Timestamp string // raw @timestamp, may be empty or malformed
	Rule      Rule
	Severity  any // raw signal severity: JSON number, string, or nil
}

// SinkAlert is the payload POSTed to TheHive's alert endpoint.
type SinkAlert struct {
	Type        string   `json:"type"`
	Source      string   `json:"source"`
	SourceRef   string   `json:"sourceRef"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    int      `json:"severity"`
	Date        int64    `json:"date"` // epoch milliseconds
	Tags        []string `json:"tags"`
	TLP         int      `json:"tlp"`
	PAP         int      `json:"pap"`
}
