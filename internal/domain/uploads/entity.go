package uploads

import (
	"strings"
	"time"
)

// NameSeparator splits a stored upload name into its prefix and original name.
const NameSeparator = "__"

// File is one entry of the uploads sandbox.
type File struct {
	OriginalName string    `json:"original_name"`
	Name         string    `json:"name"`
	RelativePath string    `json:"relative_path"`
	Bytes        int64     `json:"bytes"`
	CreatedTime  time.Time `json:"created_time"`
}

// OriginalName recovers the user-facing name from a stored name by taking
// everything after the first separator, or the full name if there is none.
func OriginalName(stored string) string {
	if _, rest, ok := strings.Cut(stored, NameSeparator); ok {
		return rest
	}
	return stored
}
