package payload

import "encoding/json"

// envelopeKeys are the common wrapper keys third party APIs put their record
// arrays under.
var envelopeKeys = []string{"data", "items", "results", "records", "rows"}

// nextKeys are the flat keys cursor style APIs use to point at the next page.
var nextKeys = []string{"next", "next_url", "nextPage", "next_page", "nextLink", "next_link"}

// Items normalizes a decoded API response into a list of record objects. It
// handles the response shapes seen across third party APIs: a bare array, an
// array under one of the common envelope keys, an array nested one level
// deeper under "data", or a single object which is treated as a one item
// page. Anything else yields no items.
func Items(doc any) []map[string]any {
	switch v := doc.(type) {
	case []any:
		return onlyObjects(v)
	case map[string]any:
		for _, key := range envelopeKeys {
			if arr, ok := v[key].([]any); ok {
				return onlyObjects(arr)
			}
		}
		if data, ok := v["data"].(map[string]any); ok {
			for _, key := range envelopeKeys[1:] {
				if arr, ok := data[key].([]any); ok {
					return onlyObjects(arr)
				}
			}
		}
		return []map[string]any{v}
	}
	return nil
}

// NextURL discovers a next page URL in a decoded response, for APIs that
// paginate by cursor instead of a page parameter. It checks the flat keys
// first and then the HAL style links/_links objects. Returns "" when the
// response carries no next pointer.
func NextURL(doc any) string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range nextKeys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	links, ok := obj["links"].(map[string]any)
	if !ok {
		links, ok = obj["_links"].(map[string]any)
	}
	if !ok {
		return ""
	}
	switch nxt := links["next"].(type) {
	case map[string]any:
		if href, ok := nxt["href"].(string); ok && href != "" {
			return href
		}
		if u, ok := nxt["url"].(string); ok && u != "" {
			return u
		}
	case string:
		return nxt
	}
	return ""
}

// Documents yields the record objects stored in a raw payload. Raw rows hold
// whatever the wire carried, so the payload may be an object, an array of
// objects, or a JSON string that itself encodes one of those (double encoded
// payloads show up when a source wraps JSON in JSON). Non-object elements and
// undecodable content are dropped rather than failing the row.
func Documents(raw json.RawMessage) []map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return fromDecoded(doc)
}

func fromDecoded(doc any) []map[string]any {
	switch v := doc.(type) {
	case map[string]any:
		return []map[string]any{v}
	case []any:
		return onlyObjects(v)
	case string:
		var inner any
		if err := json.Unmarshal([]byte(v), &inner); err != nil {
			return nil
		}
		switch iv := inner.(type) {
		case map[string]any:
			return []map[string]any{iv}
		case []any:
			return onlyObjects(iv)
		}
	}
	return nil
}

func onlyObjects(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, it := range arr {
		if obj, ok := it.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}
