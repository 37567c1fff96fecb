package match

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ParseSize parses a byte count such as "1024", "100MB" or "1.5GiB".
// KB/MB/GB are base-10 and KiB/MiB/GiB base-2.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidSize
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: negative size", ErrInvalidSize)
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: size overflows int64", ErrInvalidSize)
	}
	return int64(n), nil
}

// FormatSize renders bytes with base-2 units.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return fmt.Sprintf("%dB", bytes)
	}
	return humanize.IBytes(uint64(bytes))
}

// ParseDate parses "2024-01-15" (start of day UTC) or an RFC 3339
// timestamp. Results are UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}
