package protocol

import "time"

// Key/value pair describing a platform capability or requirement.
type Property struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

type SourceStamp struct {
	Codebase   string `json:"codebase" yaml:"codebase"`
	Repository string `json:"repository" yaml:"repository"`
	Branch     string `json:"branch" yaml:"branch"`
	Revision   string `json:"revision" yaml:"revision"`
	Project    string `json:"project" yaml:"project"`
}

// Body of POST /api/buildsets, also the document format of
// coordinatorctl buildset add.
type CreateBuildsetRequest struct {
	Reason       string            `json:"reason" yaml:"reason"`
	ExternalID   string            `json:"external_id,omitempty" yaml:"external_id"`
	Builders     []string          `json:"builders" yaml:"builders"`
	SourceStamps []SourceStamp     `json:"sourcestamps,omitempty" yaml:"sourcestamps"`
	Properties   map[string]string `json:"properties,omitempty" yaml:"properties"`
	Priority     int               `json:"priority,omitempty" yaml:"priority"`
}

type CreateBuildsetResponse struct {
	BuildsetID int64            `json:"buildset_id"`
	Requests   map[string]int64 `json:"requests"`
}

type BuildRequest struct {
	ID          int64      `json:"id"`
	BuildsetID  int64      `json:"buildset_id"`
	Builder     string     `json:"builder"`
	Priority    int        `json:"priority"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	Complete    bool       `json:"complete"`
	CompleteAt  *time.Time `json:"complete_at,omitempty"`
	Result      Result     `json:"result"`
}

type Buildset struct {
	ID           int64             `json:"id"`
	Reason       string            `json:"reason"`
	ExternalID   string            `json:"external_id,omitempty"`
	SubmittedAt  time.Time         `json:"submitted_at"`
	Complete     bool              `json:"complete"`
	CompleteAt   *time.Time        `json:"complete_at,omitempty"`
	Result       Result            `json:"result"`
	SourceStamps []SourceStamp     `json:"sourcestamps"`
	Properties   map[string]string `json:"properties"`
	Requests     []BuildRequest    `json:"requests"`
}

// Body of POST /api/requests/complete, sent by agents when a build finishes.
type CompleteRequestsRequest struct {
	RequestIDs []int64 `json:"request_ids"`
	Result     Result  `json:"result"`
	Agent      string  `json:"agent,omitempty"`
}

type RescheduleRequest struct {
	Builders []string `json:"builders,omitempty"`
}

// Posted to an agent to start a build of one or more merged requests.
type DispatchRequest struct {
	Coordinator  string            `json:"coordinator"`
	Builder      string            `json:"builder"`
	Agent        string            `json:"agent"`
	RequestIDs   []int64           `json:"request_ids"`
	BuildsetIDs  []int64           `json:"buildset_ids"`
	SourceStamps []SourceStamp     `json:"sourcestamps"`
	Properties   map[string]string `json:"properties,omitempty"`
}

// Posted to the dashboard when something happens to a buildset.
type Event struct {
	Type       string    `json:"type"`
	BuildsetID int64     `json:"buildset_id"`
	RequestID  int64     `json:"request_id,omitempty"`
	Result     Result    `json:"result"`
	Time       time.Time `json:"time"`
}

const (
	EventBuildsetComplete = "buildset_complete"
	EventRequestRemoved   = "request_removed"
)
