package ratelimit

import "time"

// Window 配额窗口
type Window string

const (
	WindowHour Window = "hour"
	WindowDay  Window = "day"

	// WindowThrottle 不是计数窗口，表示被令牌桶节流
	WindowThrottle Window = "throttle"
)

// Start 返回 t 所在窗口的起点，按 loc 的本地时间对齐
func (w Window) Start(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	switch w {
	case WindowHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
}

// End 返回 t 所在窗口的终点，即下一个窗口的起点
func (w Window) End(t time.Time, loc *time.Location) time.Time {
	start := w.Start(t, loc)
	switch w {
	case WindowHour:
		return start.Add(time.Hour)
	default:
		return time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, loc)
	}
}

func (w Window) storeKey() string {
	return "quota:" + string(w)
}

// retention 计数在存储中的保留时长
func (w Window) retention() time.Duration {
	if w == WindowHour {
		return 2 * time.Hour
	}
	return 48 * time.Hour
}

// record 存储中的窗口计数
type record struct {
	Start int64 `msgpack:"start"`
	Count int64 `msgpack:"count"`
}
