package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter 从 429 响应中解析窗口长度，依次尝试：
//   - Retry-After：秒数或 HTTP 日期
//   - X-RateLimit-Reset：Unix 秒级时间戳
//   - JSON 响应体中的 retry_after / retryAfter（秒）
//
// 都没有或解析结果不为正时返回 fallback。
func ParseRetryAfter(header http.Header, body []byte, now time.Time, fallback time.Duration) time.Duration {
	if header != nil {
		if d, ok := parseRetryAfterHeader(header.Get("Retry-After"), now); ok {
			return d
		}
		if d, ok := parseResetHeader(header.Get("X-RateLimit-Reset"), now); ok {
			return d
		}
	}
	if d, ok := parseRetryAfterBody(body); ok {
		return d
	}
	return fallback
}

func parseRetryAfterHeader(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return secondsToDuration(secs)
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		return d, d > 0
	}
	return 0, false
}

func parseResetHeader(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	d := time.Unix(unix, 0).Sub(now)
	return d, d > 0
}

func parseRetryAfterBody(body []byte) (time.Duration, bool) {
	if len(body) == 0 {
		return 0, false
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, false
	}
	for _, key := range []string{"retry_after", "retryAfter"} {
		switch v := payload[key].(type) {
		case float64:
			return secondsToDuration(v)
		case string:
			if secs, err := strconv.ParseFloat(v, 64); err == nil {
				return secondsToDuration(secs)
			}
		}
	}
	return 0, false
}

func secondsToDuration(secs float64) (time.Duration, bool) {
	if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}
