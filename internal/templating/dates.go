package templating

import (
	"strings"
	"time"

	"github.com/aymerick/raymond"
)

// TimeZoneBias holds the regional offsets of the site and of the current
// user, in minutes, as reported by the host page. A zero UserBias means the
// user has no regional settings of their own.
type TimeZoneBias struct {
	WebBias  int `json:"WebBias" yaml:"web_bias"`
	WebDST   int `json:"WebDST" yaml:"web_dst"`
	UserBias int `json:"UserBias" yaml:"user_bias"`
	UserDST  int `json:"UserDST" yaml:"user_dst"`
}

// Time display modes understood by getDate.
const (
	TimeAsWritten  = 1
	TimeDateOnly   = 2
	TimeWebRegion  = 3
	TimeUserRegion = 4
)

const invalidDate = "Invalid date"

// isDST reports whether daylight saving time is in effect at now, judged by
// comparing now's offset with the smaller of the January and July offsets
// of the same year.
func isDST(now time.Time) bool {
	loc := now.Location()
	_, jan := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc).Zone()
	_, jul := time.Date(now.Year(), time.July, 1, 0, 0, 0, 0, loc).Zone()
	_, current := now.Zone()
	standard := jan
	if jul < standard {
		standard = jul
	}
	return current > standard
}

// DST reports the daylight saving flag computed when the engine started.
func (e *Engine) DST() bool {
	return e.dst
}

// addMinutes shifts t by minutes, plus dst minutes while daylight saving
// time is in effect locally.
func (e *Engine) addMinutes(t time.Time, minutes, dst int) time.Time {
	if e.dst {
		minutes += dst
	}
	return t.Add(time.Duration(minutes) * time.Minute)
}

var dateLayouts = []struct {
	layout string
	utc    bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02", true},
	{"1/2/2006 3:04:05 PM Z", true},
	{"1/2/2006 3:04:05 PM", false},
	{"1/2/2006 15:04:05 Z", true},
	{"1/2/2006 15:04:05", false},
	{"1/2/2006", false},
}

// parseDate reads the date formats search results carry. Strings without a
// zone designator are local to loc, except bare dates which are UTC.
func parseDate(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, l := range dateLayouts {
		var (
			t   time.Time
			err error
		)
		if l.utc {
			t, err = time.Parse(l.layout, value)
		} else {
			t, err = time.ParseInLocation(l.layout, value, loc)
		}
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// wallClock reinterprets the UTC wall clock of t in loc.
func wallClock(t time.Time, loc *time.Location) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), u.Nanosecond(), loc)
}

// FormatDate renders date with a moment style format according to mode.
func (e *Engine) FormatDate(date, format string, mode int, isZ bool) string {
	loc := e.opts.Location

	if isZ && !strings.HasSuffix(strings.ToUpper(date), "Z") {
		if strings.Contains(date, " ") {
			date += " "
		}
		date += "Z"
	}

	itemDate, ok := parseDate(date, loc)
	if !ok {
		return date
	}
	if itemDate.UnixMilli() == 0 {
		return ""
	}

	var display time.Time
	switch mode {
	case TimeAsWritten:
		d, ok := parseDate(strings.TrimRight(date, "Z"), loc)
		if !ok {
			return invalidDate
		}
		display = d
	case TimeDateOnly:
		idx := strings.Index(date, "T")
		if idx < 0 {
			return invalidDate
		}
		d, ok := parseDate(date[:idx]+"T00:00:00", loc)
		if !ok {
			return invalidDate
		}
		display = d
	case TimeWebRegion:
		display = wallClock(e.addMinutes(itemDate, -e.opts.Bias.WebBias, -e.opts.Bias.WebDST), loc)
	case TimeUserRegion:
		if e.opts.Bias.UserBias != 0 {
			display = wallClock(e.addMinutes(itemDate, -e.opts.Bias.UserBias, -e.opts.Bias.UserDST), loc)
		} else {
			display = itemDate.In(loc)
		}
	default:
		display = itemDate.In(loc)
	}
	return FormatMoment(display, format, e.opts.Culture)
}

// getDate formats a date field. Usage:
//
//	{{getDate Created "LL"}}
//	{{getDate Created "LLL" timeHandling=3 isZ=true}}
func (e *Engine) getDate(date interface{}, format string, options *raymond.Options) interface{} {
	value := str(date)
	mode := 0
	if v, ok := toNumber(options.HashProp("timeHandling")); ok {
		mode = int(v)
	}
	isZ := raymond.IsTrue(options.HashProp("isZ"))
	if value == "" {
		return ""
	}
	return e.FormatDate(value, format, mode, isZ)
}

// momentHelper formats a date in the page's location. Usage:
//
//	{{moment Created "YYYY-MM-DD"}}
func (e *Engine) momentHelper(date interface{}, format string) interface{} {
	value := str(date)
	t, ok := parseDate(value, e.opts.Location)
	if !ok {
		if value == "" {
			t = e.opts.Now()
		} else {
			return invalidDate
		}
	}
	if format == "" {
		format = "YYYY-MM-DDTHH:mm:ssZ"
	}
	return FormatMoment(t.In(e.opts.Location), format, e.opts.Culture)
}
