package http

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/crmarques/reconctl/server"
)

func extractListItems(payload any) ([]any, error) {
	switch typed := payload.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return typed, nil
	case map[string]any:
		items, ok := typed["items"]
		if ok {
			values, valuesOK := items.([]any)
			if !valuesOK {
				return nil, server.NewListPayloadShapeError("list response \"items\" must be an array", nil)
			}
			return values, nil
		}

		arrayFieldKeys := make([]string, 0, len(typed))
		for key, field := range typed {
			if _, fieldIsArray := field.([]any); fieldIsArray {
				arrayFieldKeys = append(arrayFieldKeys, key)
			}
		}
		sort.Strings(arrayFieldKeys)

		if len(arrayFieldKeys) == 1 {
			values, _ := typed[arrayFieldKeys[0]].([]any)
			return values, nil
		}

		if len(arrayFieldKeys) > 1 {
			return nil, server.NewListPayloadShapeError(
				fmt.Sprintf(
					"list response object is ambiguous: expected an \"items\" array or a single array field, found array fields [%s]",
					strings.Join(arrayFieldKeys, ", "),
				),
				nil,
			)
		}

		return nil, server.NewListPayloadShapeError("list response object must include an \"items\" array", nil)
	default:
		return nil, server.NewListPayloadShapeError("list response must be an array or an object with an \"items\" array", nil)
	}
}

// decodeList turns a list response into records: JSON decode, optional jq
// extraction, item extraction, then one JSON round trip into R.
func decodeList[R any](ctx context.Context, body []byte, expression string) ([]R, error) {
	payload, err := decodeJSONResponse(body)
	if err != nil {
		return nil, err
	}
	payload, err = applyListJQ(ctx, payload, expression)
	if err != nil {
		return nil, err
	}

	items, err := extractListItems(payload)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, internalError("failed to re-encode list items", err)
	}
	records := make([]R, 0, len(items))
	if err := json.Unmarshal(encoded, &records); err != nil {
		return nil, server.NewListPayloadShapeError("list items do not match the expected record shape", err)
	}
	return records, nil
}
