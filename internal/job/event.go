package job

import (
	"jobengine/pkg/cloudevent"
	"slices"

	"github.com/google/uuid"
)

// EventTypePrefix prefixes the CloudEvent type of every status change.
// The full type is the prefix followed by the new status, e.g. "jobengine.job.success".
const EventTypePrefix = "jobengine.job."

// ParentExtension is the CloudEvent extension attribute carrying the sweep
// parent id, so receivers can group sweep members without reading data.
const ParentExtension = "jobparent"

// EventType returns the CloudEvent type for a status.
func EventType(status Status) string {
	return EventTypePrefix + string(status)
}

// FilteredEvents returns true if the event type should be sent based on the filter.
// If the filter is empty, all events are allowed.
func FilteredEvents(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.Contains(filter, eventType)
}

// EventBuilder builds CloudEvents for job status changes.
type EventBuilder struct {
	source string
}

// NewEventBuilder creates a new EventBuilder.
func NewEventBuilder(source string) *EventBuilder {
	return &EventBuilder{source: source}
}

// BuildStatusEvent creates an event describing the current state of j.
// Logs are omitted; consumers fetch them from the API.
func (b *EventBuilder) BuildStatusEvent(j *Job) *cloudevent.CloudEvent {
	data := map[string]any{
		"jobId":          j.ID,
		"status":         j.Status,
		"containerImage": j.ContainerImage,
	}
	if j.ParentJobID != "" {
		data["parentJobId"] = j.ParentJobID
	}
	if j.CreatedBy != "" {
		data["createdBy"] = j.CreatedBy
	}
	if j.ExitCode != nil {
		data["exitCode"] = *j.ExitCode
	}
	if j.RuntimeSeconds != nil {
		data["runtimeSeconds"] = *j.RuntimeSeconds
	}
	if j.ResultPath != "" {
		data["resultPath"] = j.ResultPath
	}
	if len(j.Metadata) > 0 {
		data["metadata"] = j.Metadata
	}
	event := cloudevent.New(EventType(j.Status), b.source, j.ID, uuid.NewString(), data)
	event.SetExtension(ParentExtension, j.ParentJobID)
	return event
}
