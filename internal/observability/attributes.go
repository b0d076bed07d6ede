// Package observability provides the service metrics.
package observability

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String("method", method)
}

func routeAttr(route string) attribute.KeyValue {
	return attribute.String("route", route)
}

// statusAttr groups status codes into classes (2xx, 4xx, 5xx).
func statusAttr(code int) attribute.KeyValue {
	return attribute.String("status", strconv.Itoa(code/100)+"xx")
}

func imageAttr(image string) attribute.KeyValue {
	return attribute.String("image", image)
}

func jobStatusAttr(status string) attribute.KeyValue {
	return attribute.String("job_status", status)
}

func directoryAttr(directory bool) attribute.KeyValue {
	return attribute.Bool("directory", directory)
}

func eventTypeAttr(eventType string) attribute.KeyValue {
	return attribute.String("event_type", eventType)
}
