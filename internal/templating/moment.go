package templating

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goodsign/monday"
	"golang.org/x/text/language"
)

// dateLocale pairs the month and day names of a culture with the long
// date formats and ordinals of its language.
type dateLocale struct {
	names   monday.Locale
	long    map[string]string
	ordinal func(n int) string
}

// dateFormats holds the long date formats and ordinals per base language.
var dateFormats = map[string]struct {
	long    map[string]string
	ordinal func(n int) string
}{
	"en": {
		long: map[string]string{
			"LT":   "h:mm A",
			"LTS":  "h:mm:ss A",
			"L":    "MM/DD/YYYY",
			"LL":   "MMMM D, YYYY",
			"LLL":  "MMMM D, YYYY h:mm A",
			"LLLL": "dddd, MMMM D, YYYY h:mm A",
			"l":    "M/D/YYYY",
			"ll":   "MMM D, YYYY",
			"lll":  "MMM D, YYYY h:mm A",
			"llll": "ddd, MMM D, YYYY h:mm A",
		},
		ordinal: englishOrdinal,
	},
	"fr": {
		long: map[string]string{
			"LT":   "HH:mm",
			"LTS":  "HH:mm:ss",
			"L":    "DD/MM/YYYY",
			"LL":   "D MMMM YYYY",
			"LLL":  "D MMMM YYYY HH:mm",
			"LLLL": "dddd D MMMM YYYY HH:mm",
		},
		ordinal: func(n int) string {
			if n == 1 {
				return "1er"
			}
			return strconv.Itoa(n)
		},
	},
	"de": {
		long: map[string]string{
			"LT":   "HH:mm",
			"LTS":  "HH:mm:ss",
			"L":    "DD.MM.YYYY",
			"LL":   "D. MMMM YYYY",
			"LLL":  "D. MMMM YYYY HH:mm",
			"LLLL": "dddd, D. MMMM YYYY HH:mm",
		},
		ordinal: func(n int) string { return strconv.Itoa(n) + "." },
	},
	"es": {
		long: map[string]string{
			"LT":   "H:mm",
			"LTS":  "H:mm:ss",
			"L":    "DD/MM/YYYY",
			"LL":   "D [de] MMMM [de] YYYY",
			"LLL":  "D [de] MMMM [de] YYYY H:mm",
			"LLLL": "dddd, D [de] MMMM [de] YYYY H:mm",
		},
		ordinal: func(n int) string { return strconv.Itoa(n) + "º" },
	},
}

var supportedNames = func() map[monday.Locale]bool {
	set := make(map[monday.Locale]bool)
	for _, l := range monday.ListLocales() {
		set[l] = true
	}
	return set
}()

func englishOrdinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return strconv.Itoa(n) + suffix
}

// localeFor picks the date locale for a culture name such as "fr-CA".
// Names fall back to English for cultures without translations, formats
// fall back to English for languages without a table.
func localeFor(culture string) *dateLocale {
	loc := &dateLocale{names: monday.LocaleEnUS}
	base := "en"
	if tag, err := language.Parse(culture); err == nil {
		b, _ := tag.Base()
		r, _ := tag.Region()
		if names := monday.Locale(b.String() + "_" + r.String()); supportedNames[names] {
			loc.names = names
		}
		if _, ok := dateFormats[b.String()]; ok {
			base = b.String()
		}
	}
	loc.long = dateFormats[base].long
	loc.ordinal = dateFormats[base].ordinal
	return loc
}

// Longest tokens first so that "MMMM" wins over "MM".
var momentTokens = []string{
	"LLLL", "llll", "LTS", "LLL", "lll", "LL", "ll", "LT", "L", "l",
	"YYYY", "YY", "MMMM", "MMM", "MM", "M", "Do", "DDDD", "DDD", "DD", "D",
	"dddd", "ddd", "dd", "d", "HH", "H", "hh", "h", "mm", "m", "ss", "s",
	"SSS", "SS", "S", "A", "a", "ZZ", "Z", "X", "x", "Q",
}

// FormatMoment formats t with a moment.js style pattern in culture.
// Text inside square brackets is copied verbatim.
func FormatMoment(t time.Time, pattern, culture string) string {
	return formatMoment(t, pattern, localeFor(culture), 0)
}

func formatMoment(t time.Time, pattern string, loc *dateLocale, depth int) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		if pattern[i] == '[' {
			end := strings.IndexByte(pattern[i:], ']')
			if end > 0 {
				b.WriteString(pattern[i+1 : i+end])
				i += end + 1
				continue
			}
		}

		token := ""
		for _, candidate := range momentTokens {
			if strings.HasPrefix(pattern[i:], candidate) {
				token = candidate
				break
			}
		}
		if token == "" {
			b.WriteByte(pattern[i])
			i++
			continue
		}
		b.WriteString(formatToken(t, token, loc, depth))
		i += len(token)
	}
	return b.String()
}

func formatToken(t time.Time, token string, loc *dateLocale, depth int) string {
	switch token {
	case "LLLL", "llll", "LTS", "LLL", "lll", "LL", "ll", "LT", "L", "l":
		if depth > 0 {
			return token
		}
		format, ok := loc.long[token]
		if !ok {
			format = loc.long[strings.ToUpper(token)]
		}
		return formatMoment(t, format, loc, depth+1)
	case "YYYY":
		return fmt.Sprintf("%04d", t.Year())
	case "YY":
		return fmt.Sprintf("%02d", t.Year()%100)
	case "MMMM":
		return monday.Format(t, "January", loc.names)
	case "MMM":
		return monday.Format(t, "Jan", loc.names)
	case "MM":
		return fmt.Sprintf("%02d", int(t.Month()))
	case "M":
		return strconv.Itoa(int(t.Month()))
	case "Do":
		return loc.ordinal(t.Day())
	case "DDDD":
		return fmt.Sprintf("%03d", t.YearDay())
	case "DDD":
		return strconv.Itoa(t.YearDay())
	case "DD":
		return fmt.Sprintf("%02d", t.Day())
	case "D":
		return strconv.Itoa(t.Day())
	case "dddd":
		return monday.Format(t, "Monday", loc.names)
	case "ddd":
		return monday.Format(t, "Mon", loc.names)
	case "dd":
		day := []rune(monday.Format(t, "Monday", loc.names))
		if len(day) > 2 {
			day = day[:2]
		}
		return string(day)
	case "d":
		return strconv.Itoa(int(t.Weekday()))
	case "HH":
		return fmt.Sprintf("%02d", t.Hour())
	case "H":
		return strconv.Itoa(t.Hour())
	case "hh":
		return fmt.Sprintf("%02d", hour12(t))
	case "h":
		return strconv.Itoa(hour12(t))
	case "mm":
		return fmt.Sprintf("%02d", t.Minute())
	case "m":
		return strconv.Itoa(t.Minute())
	case "ss":
		return fmt.Sprintf("%02d", t.Second())
	case "s":
		return strconv.Itoa(t.Second())
	case "SSS":
		return fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond))
	case "SS":
		return fmt.Sprintf("%02d", t.Nanosecond()/int(10*time.Millisecond))
	case "S":
		return strconv.Itoa(t.Nanosecond() / int(100*time.Millisecond))
	case "A":
		if t.Hour() < 12 {
			return "AM"
		}
		return "PM"
	case "a":
		if t.Hour() < 12 {
			return "am"
		}
		return "pm"
	case "ZZ":
		return t.Format("-0700")
	case "Z":
		return t.Format("-07:00")
	case "X":
		return strconv.FormatInt(t.Unix(), 10)
	case "x":
		return strconv.FormatInt(t.UnixMilli(), 10)
	case "Q":
		return strconv.Itoa((int(t.Month())-1)/3 + 1)
	}
	return token
}

func hour12(t time.Time) int {
	h := t.Hour() % 12
	if h == 0 {
		return 12
	}
	return h
}
