package versioning

import "time"

// EventTypeVersionCommitted is the detail type of VersionCommitted events
const EventTypeVersionCommitted = "versioning.version.committed"

// VersionCommitted is raised after a non-empty version joins a history
type VersionCommitted struct {
	Key           string    `json:"key"`
	VersionID     string    `json:"versionId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Checksum      string    `json:"checksum"`
	Summary       Summary   `json:"summary"`
	CommittedAt   time.Time `json:"committedAt"`
}

// NewVersionCommitted describes the commit of version under key
func NewVersionCommitted(key string, version *Version, at time.Time) (VersionCommitted, error) {
	sum, err := Checksum(version)
	if err != nil {
		return VersionCommitted{}, err
	}
	return VersionCommitted{
		Key:           key,
		VersionID:     version.ID,
		CorrelationID: version.CorrelationID,
		Checksum:      sum,
		Summary:       Summarize(version),
		CommittedAt:   at,
	}, nil
}

// EventType returns the event detail type
func (e VersionCommitted) EventType() string {
	return EventTypeVersionCommitted
}
