package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrUnknownEnvelope is returned when a list response matches no known shape.
var ErrUnknownEnvelope = errors.New("unrecognized response envelope")

// listKeys are the wrapper keys gateways put around a list, in lookup order.
var listKeys = []string{"data", "messages", "chats", "contacts", "result", "results", "items"}

// decodeList normalizes a list response to its items. Accepted shapes: a bare
// array, null, or an object holding the array under one of listKeys, possibly
// one level deeper ({"data": {"messages": [...]}}).
func decodeList(body []byte) ([]json.RawMessage, error) {
	return decodeListDepth(body, 0)
}

func decodeListDepth(body []byte, depth int) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}

	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		if depth > 1 {
			return nil, ErrUnknownEnvelope
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, err
		}
		for _, key := range listKeys {
			inner, ok := obj[key]
			if !ok {
				continue
			}
			items, err := decodeListDepth(inner, depth+1)
			if err == nil {
				return items, nil
			}
		}
		return nil, ErrUnknownEnvelope
	}
	return nil, ErrUnknownEnvelope
}

// unwrapObject returns the inner object of {"data": {...}} style answers, or
// body unchanged.
func unwrapObject(body []byte) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return body
	}
	for _, key := range []string{"data", "result", "profile"} {
		if inner, ok := obj[key]; ok {
			inner = bytes.TrimSpace(inner)
			if len(inner) > 0 && inner[0] == '{' {
				return inner
			}
		}
	}
	return body
}
