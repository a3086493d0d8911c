package run

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NewName builds a human-facing run name like WR-TEL-OUT-04821736.
// The 8-digit suffix is derived from the first 8 hex chars of a UUID; the
// numeric row id remains the real identity, so suffix collisions are
// tolerated.
func NewName(ct CallType) string {
	hexPart := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	n, _ := strconv.ParseUint(hexPart, 16, 64)

	prefix := "WR-TEL-OUT"
	if ct == CallTypeInbound {
		prefix = "WR-TEL-IN"
	}
	return fmt.Sprintf("%s-%08d", prefix, n%100000000)
}
