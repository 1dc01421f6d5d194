package types

import (
	"regexp"
	"strings"
	"time"
)

// cmeCounterSuffix matches the trailing sequence counter of a structured
// activity identifier ("2025-11-05T10:53:00-CME-001" -> "-001").
var cmeCounterSuffix = regexp.MustCompile(`-\d+$`)

// ActivityRoot strips the sequence counter from a structured activity
// identifier, leaving the source-independent root.
func ActivityRoot(activityID string) string {
	return cmeCounterSuffix.ReplaceAllString(activityID, "")
}

// CanonicalID derives the stable identifier for an event. The start time
// is rounded to the given granularity so that sources reporting slightly
// different instants still derive the same identifier.
//
// Flares discriminate on class letter plus region (falling back to the
// heliographic location); CMEs discriminate on the activity-ID root when
// the source exposes one.
func CanonicalID(t EventType, start time.Time, round time.Duration, discriminator string) string {
	if round <= 0 {
		round = 5 * time.Minute
	}
	stamp := start.UTC().Round(round).Format("20060102T1504")

	var b strings.Builder
	switch t {
	case EventFlare:
		b.WriteString("flr-")
	case EventCME:
		b.WriteString("cme-")
	}
	b.WriteString(stamp)
	if discriminator != "" {
		b.WriteString("-")
		b.WriteString(sanitizeDiscriminator(discriminator))
	}
	return b.String()
}

// FlareDiscriminator builds the flare discriminator from class and
// region/location, tolerating either being absent.
func FlareDiscriminator(class, region, location string) string {
	letter := ""
	if l, _, ok := FlareClassParts(class); ok {
		letter = strings.ToLower(l)
	}
	switch {
	case region != "":
		return letter + region
	case location != "":
		return letter + strings.ToLower(location)
	default:
		return letter
	}
}

func sanitizeDiscriminator(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return -1
		}
	}, s)
}
