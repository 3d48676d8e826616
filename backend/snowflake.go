package backend

import (
	"strconv"
	"sync/atomic"
	"time"
)

// discordEpoch is the first second of 2015, the epoch used by discord snowflake identifiers
const discordEpoch = 1420070400000

// snowflakes generates identifiers laid out like discord's: millisecond timestamp since the
// discord epoch in the high bits and a monotonically increasing counter in the low 22 bits.
// The counter spans the worker/process/increment bits so that identifiers generated in the
// same millisecond still sort in generation order
type snowflakes struct {
	increment uint64
}

// Next returns a new unique identifier in the string form used by the API
func (s *snowflakes) Next() (id string) {
	inc := atomic.AddUint64(&s.increment, 1)
	millis := uint64(time.Now().UnixMilli() - discordEpoch)

	return strconv.FormatUint(millis<<22|(inc&0x3FFFFF), 10)
}
