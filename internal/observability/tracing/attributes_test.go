package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsPayload(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/v1/queue/items"),
		attribute.String("raw_payload", "{}"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorKeepsFirstLine(t *testing.T) {
	err := SafeError(errors.New("persist failed\nimei=123"))
	assert.EqualError(t, err, "persist failed")
	assert.Nil(t, SafeError(nil))
}
