package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// newID builds ids like god_1718000000000_3f9a1c2e7: creation millis plus a random suffix.
func newID(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), suffix)
}
