package analyzer

import (
	"strconv"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
)

// Attribute keys read from resources and data points.
const (
	AttrDeviceID   = "device.id"
	AttrHostName   = "host.name"
	AttrSourceUnit = "source.unit"
	AttrAnimalID   = "animal.id"
)

// extractAttributes converts OTLP KeyValue attributes to a map.
func extractAttributes(attrs []*commonpb.KeyValue) map[string]string {
	result := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		result[attr.Key] = attributeValueToString(attr.Value)
	}
	return result
}

// attributeValueToString converts an OTLP attribute value to string.
// Composite values are not meaningful as identifiers and map to "".
func attributeValueToString(value *commonpb.AnyValue) string {
	if value == nil {
		return ""
	}

	switch v := value.Value.(type) {
	case *commonpb.AnyValue_StringValue:
		return v.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(v.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(v.DoubleValue, 'f', -1, 64)
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(v.BoolValue)
	default:
		return ""
	}
}

// lookup returns the first non-empty value of key across the attribute
// maps, in order.
func lookup(key string, maps ...map[string]string) string {
	for _, m := range maps {
		if v := m[key]; v != "" {
			return v
		}
	}
	return ""
}

// deviceID resolves the reporting device: device.id on the data point,
// then on the resource, then the resource host.name.
func deviceID(pointAttrs, resourceAttrs map[string]string) string {
	if id := lookup(AttrDeviceID, pointAttrs, resourceAttrs); id != "" {
		return id
	}
	return resourceAttrs[AttrHostName]
}
