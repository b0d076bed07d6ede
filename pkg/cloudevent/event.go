// Package cloudevent builds CloudEvents 1.0 and delivers them over HTTP in
// structured mode.
package cloudevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// SpecVersion is the CloudEvents version produced by this package.
const SpecVersion = "1.0"

var extensionName = regexp.MustCompile(`^[a-z0-9]{1,20}$`)

// reserved attribute names that extensions may not shadow.
var reserved = map[string]bool{
	"specversion": true, "type": true, "source": true, "subject": true, "id": true,
	"time": true, "datacontenttype": true, "data": true, "dataschema": true,
}

// CloudEvent is a CloudEvents 1.0 event. Extensions are serialized as
// top-level attributes next to the core ones.
type CloudEvent struct {
	SpecVersion     string
	Type            string
	Source          string
	Subject         string
	ID              string
	Time            time.Time
	DataContentType string
	Data            map[string]any
	Extensions      map[string]string
}

// New creates an event stamped with the current time.
func New(eventType, source, subject, id string, data map[string]any) *CloudEvent {
	return &CloudEvent{
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		ID:              id,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// SetExtension adds an extension attribute. An empty value removes it.
func (e *CloudEvent) SetExtension(name, value string) {
	if value == "" {
		delete(e.Extensions, name)
		return
	}
	if e.Extensions == nil {
		e.Extensions = make(map[string]string)
	}
	e.Extensions[name] = value
}

// Validate checks the required attributes and extension names.
func (e *CloudEvent) Validate() error {
	var errs []error
	if e.SpecVersion != SpecVersion {
		errs = append(errs, fmt.Errorf("unsupported specversion %q", e.SpecVersion))
	}
	if e.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if e.Source == "" {
		errs = append(errs, errors.New("source is required"))
	}
	if e.Type == "" {
		errs = append(errs, errors.New("type is required"))
	}
	for name := range e.Extensions {
		if !extensionName.MatchString(name) || reserved[name] {
			errs = append(errs, fmt.Errorf("invalid extension name %q", name))
		}
	}
	return errors.Join(errs...)
}

// MarshalJSON renders the structured-mode representation.
func (e *CloudEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 8+len(e.Extensions))
	for name, value := range e.Extensions {
		out[name] = value
	}
	out["specversion"] = e.SpecVersion
	out["type"] = e.Type
	out["source"] = e.Source
	out["id"] = e.ID
	if e.Subject != "" {
		out["subject"] = e.Subject
	}
	if !e.Time.IsZero() {
		out["time"] = e.Time.Format(time.RFC3339Nano)
	}
	if e.DataContentType != "" {
		out["datacontenttype"] = e.DataContentType
	}
	if e.Data != nil {
		out["data"] = e.Data
	}
	return json.Marshal(out)
}
