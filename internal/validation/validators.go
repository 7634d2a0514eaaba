// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package validation

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sync"
	"time"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()./-]{5,}$`)
)

// runNamedValidator applies a composite validator attached on a prop.
// It returns "" on success or a textual reason bound to the field.
// Unknown validator names are ignored; the prop definition is data
// and must not break existing rows when a client invents a name.
func runNamedValidator(name string, value interface{}) string {
	switch name {
	case "email":
		s, ok := value.(string)
		if !ok || !emailPattern.MatchString(s) {
			return "not a valid email address"
		}
	case "url":
		s, ok := value.(string)
		if !ok {
			return "not a valid URL"
		}
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "not a valid URL"
		}
	case "phone":
		s, ok := value.(string)
		if !ok || !phonePattern.MatchString(s) {
			return "not a valid phone number"
		}
	case "json":
		s, ok := value.(string)
		if !ok {
			return "not a JSON document"
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return fmt.Sprintf("not a JSON document: %v", err)
		}
	case "date_range":
		return validateDateRange(value)
	}
	return ""
}

// validateDateRange accepts {"start": <iso>, "end": <iso>} with
// start <= end. Either bound may be omitted.
func validateDateRange(value interface{}) string {
	m, ok := asMap(value)
	if !ok {
		return "not a date range object"
	}
	parse := func(key string) (time.Time, bool, string) {
		raw, present := m[key]
		if !present || raw == nil {
			return time.Time{}, false, ""
		}
		s, ok := raw.(string)
		if !ok {
			return time.Time{}, false, fmt.Sprintf("%s is not a date string", key)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, false, fmt.Sprintf("%s is not an ISO-8601 date", key)
		}
		return t, true, ""
	}
	start, hasStart, reason := parse("start")
	if reason != "" {
		return reason
	}
	end, hasEnd, reason := parse("end")
	if reason != "" {
		return reason
	}
	if hasStart && hasEnd && end.Before(start) {
		return "end precedes start"
	}
	return ""
}

var (
	patternMu    sync.Mutex
	patternCache = make(map[string]*regexp.Regexp)
)

// matchPattern compiles and caches prop patterns; the same pattern is
// evaluated on every write of its class.
func matchPattern(pattern, s string) (bool, error) {
	patternMu.Lock()
	re, ok := patternCache[pattern]
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			patternMu.Unlock()
			return false, err
		}
		patternCache[pattern] = re
	}
	patternMu.Unlock()
	return re.MatchString(s), nil
}
