package formatting

import (
	"encoding/json"
	"fmt"
)

// PrettyJSON renders v as two-space indented JSON, or with %v if v cannot be marshaled.
func PrettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
