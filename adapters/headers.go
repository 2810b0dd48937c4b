package adapters

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brettbedarf/tempofs"
)

// ContentRange is a parsed Content-Range header. Start and End are -1 for
// the unsatisfied form "bytes */N"; Total is UnknownSize for "bytes a-b/*".
type ContentRange struct {
	Start int64
	End   int64 // inclusive
	Total int64
}

// ParseContentRange parses "bytes a-b/N", "bytes a-b/*" and "bytes */N".
func ParseContentRange(value string) (ContentRange, error) {
	cr := ContentRange{Start: -1, End: -1, Total: tempofs.UnknownSize}
	invalid := fmt.Errorf("invalid Content-Range %q", value)

	spec, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return cr, invalid
	}
	rng, total, ok := strings.Cut(spec, "/")
	if !ok {
		return cr, invalid
	}

	if total != "*" {
		n, err := strconv.ParseInt(total, 10, 64)
		if err != nil || n < 0 {
			return cr, invalid
		}
		cr.Total = n
	}

	if rng == "*" {
		if cr.Total == tempofs.UnknownSize {
			return cr, invalid
		}
		return cr, nil
	}

	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return cr, invalid
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return cr, invalid
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return cr, invalid
	}
	if cr.Total != tempofs.UnknownSize && end >= cr.Total {
		return cr, invalid
	}
	cr.Start, cr.End = start, end
	return cr, nil
}

// ParseAcceptRanges interprets an Accept-Ranges header. Only "bytes" means
// supported. recognized is false for values that are neither "bytes" nor a
// known negative such as "none".
func ParseAcceptRanges(value string) (support tempofs.RangeSupport, recognized bool) {
	if strings.TrimSpace(value) == "" {
		return tempofs.RangeUnsupported, true
	}
	recognized = true
	for _, tok := range strings.Split(value, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		switch tok {
		case "bytes":
			return tempofs.RangeSupported, true
		case "none", "false", "0", "no":
		default:
			recognized = false
		}
	}
	return tempofs.RangeUnsupported, recognized
}

func contentLength(resp *http.Response) int64 {
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	return tempofs.UnknownSize
}

func lastModified(resp *http.Response) time.Time {
	v := resp.Header.Get("Last-Modified")
	if v == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}
	}
	return t
}
