package harvest

import (
	"fmt"
	"time"
)

// YearWindow returns the UTC calendar year as a half-open window.
func YearWindow(year int) FetchWindow {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	return FetchWindow{Year: year, From: from.Unix(), To: to.Unix()}
}

// YearWindows partitions fromYear..toYear (inclusive) into contiguous yearly windows.
func YearWindows(fromYear, toYear int) ([]FetchWindow, error) {
	if toYear < fromYear {
		return nil, fmt.Errorf("%w: year range %d..%d is empty", ErrInvalidConfig, fromYear, toYear)
	}
	windows := make([]FetchWindow, 0, toYear-fromYear+1)
	for y := fromYear; y <= toYear; y++ {
		windows = append(windows, YearWindow(y))
	}
	return windows, nil
}

// Contains reports whether ts (epoch seconds) falls inside the window.
func (w FetchWindow) Contains(ts int64) bool {
	return ts >= w.From && ts < w.To
}

// LastSecond is the inclusive upper bound for APIs whose todate is inclusive.
func (w FetchWindow) LastSecond() int64 {
	return w.To - 1
}
