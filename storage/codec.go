package storage

import (
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Property values follow the Azure Table wire format: timestamps are strings
// carrying an Edm.DateTime type annotation. The sqlite backend and the cache
// reuse the same encoding so every backend round-trips the same types.
const (
	edmDateTime     = "Edm.DateTime"
	odataTypeSuffix = "@odata.type"
	edmTimeLayout   = "2006-01-02T15:04:05.0000000Z"
)

func encodeFields(fields Fields) map[string]any {
	out := make(map[string]any, len(fields)*2)
	for k, v := range fields {
		switch tv := v.(type) {
		case time.Time:
			out[k] = tv.UTC().Format(edmTimeLayout)
			out[k+odataTypeSuffix] = edmDateTime
		default:
			out[k] = v
		}
	}
	return out
}

func decodeFields(raw map[string]any) Fields {
	out := make(Fields, len(raw))
	for k, v := range raw {
		if isReservedProperty(k) {
			continue
		}
		if typ, _ := raw[k+odataTypeSuffix].(string); typ == edmDateTime {
			if s, ok := v.(string); ok {
				if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
					out[k] = ts.UTC()
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

func isReservedProperty(k string) bool {
	switch k {
	case "PartitionKey", "RowKey", "Timestamp":
		return true
	}
	return strings.HasPrefix(k, "odata.") || strings.HasSuffix(k, odataTypeSuffix)
}

func marshalFields(fields Fields) ([]byte, error) {
	return sonic.Marshal(encodeFields(fields))
}

func unmarshalFields(data []byte) (Fields, error) {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return decodeFields(raw), nil
}
