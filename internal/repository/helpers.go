package repository

import "encoding/json"

func jsonUnmarshalMap(data []byte, target *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}
