package output

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SplitRecords turns an API response body into individual records.
// A JSON array yields its elements, a paginated object yields its
// "results" and any other object is a single record.
func SplitRecords(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("failed to parse record list: %w", err)
		}
		return items, nil
	case '{':
		var page struct {
			Results []json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("failed to parse record: %w", err)
		}
		if page.Results != nil {
			return page.Results, nil
		}
		return []json.RawMessage{json.RawMessage(body)}, nil
	default:
		return nil, fmt.Errorf("unexpected response body: %.40q", body)
	}
}

// compactJSON removes insignificant whitespace so a record fits on one line
func compactJSON(data []byte) ([]byte, error) {
	if !bytes.ContainsAny(data, "\n\r") {
		return data, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("invalid JSON record: %w", err)
	}
	return buf.Bytes(), nil
}
