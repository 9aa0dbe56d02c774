package util

import (
	"encoding/json"
	"io"
)

// WritePrettyJSON writes v to w as indented JSON followed by a newline.
func WritePrettyJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
