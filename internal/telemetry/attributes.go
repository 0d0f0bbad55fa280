// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// HTTPAttributes builds span attributes for an HTTP server request.
// A zero status means the response has not been written yet.
func HTTPAttributes(method, path string, status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.target", path),
	}
	if status > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", status))
	}
	return attrs
}

// JobAttributes builds span attributes for callback processing.
func JobAttributes(jobID, kind, engine, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("job.id", jobID),
		attribute.String("job.kind", kind),
		attribute.String("job.engine", engine),
		attribute.String("job.status", status),
	}
}
