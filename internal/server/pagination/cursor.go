package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const cursorSeparator = ","
const timeFormat = time.RFC3339Nano // Use nano for precision

// EncodeCursor creates an opaque cursor string from a creation time and item id.
func EncodeCursor(ts time.Time, id string) string {
	key := fmt.Sprintf("%s%s%s", ts.UTC().Format(timeFormat), cursorSeparator, id)
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// DecodeCursor parses the opaque cursor string back into timestamp and ID.
func DecodeCursor(encodedCursor string) (time.Time, string, error) {
	decodedBytes, err := base64.RawURLEncoding.DecodeString(encodedCursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor encoding: %w", err)
	}

	key := string(decodedBytes)
	parts := strings.SplitN(key, cursorSeparator, 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}

	ts, err := time.Parse(timeFormat, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid timestamp in cursor: %w", err)
	}

	return ts.UTC(), parts[1], nil
}
