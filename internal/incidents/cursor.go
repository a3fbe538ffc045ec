package incidents

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCursor marks a malformed pagination cursor; the read path rejects
// it as a client error rather than silently ignoring it.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the decoded resume point of a descending-ordered scan: the
// (occurred_at, id) sort key of the last row of the previous page. The next
// page selects rows strictly before it in the total order.
type Cursor struct {
	OccurredAt time.Time
	ID         string
}

// Encode packs the cursor into an opaque urlsafe token.
func (c Cursor) Encode() string {
	payload := fmt.Sprintf("%s|%s", c.OccurredAt.UTC().Format(time.RFC3339Nano), c.ID)
	return base64.URLEncoding.EncodeToString([]byte(payload))
}

// DecodeCursor unpacks a token produced by Encode. Any malformed input yields
// ErrInvalidCursor.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Cursor{}, fmt.Errorf("%w: missing sort key", ErrInvalidCursor)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return Cursor{OccurredAt: ts, ID: parts[1]}, nil
}
