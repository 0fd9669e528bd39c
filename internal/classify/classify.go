// Package classify derives device and channel labels from uploaded telemetry
// filenames.
//
// Instruments name their files "[<device>]..._CH<n>_...". Classification never
// fails: anything that does not follow the convention degrades to one of the
// sentinel labels and, where the operator should know about it, a Warning.
package classify

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Sentinel labels used when a filename does not carry a usable device or channel.
const (
	Unknown       = "Unknown"
	UnknownDevice = "Unknown Device"
	ParseError    = "Parse Error"
)

const channelMarker = "_CH"

// WarningKind identifies the classification rule that degraded.
type WarningKind string

const (
	WarnUnknownDevice    WarningKind = "unknown_device"
	WarnMalformedDevice  WarningKind = "malformed_device"
	WarnMalformedChannel WarningKind = "malformed_channel"
)

// Warning is a non-fatal classification problem. The file is still stored
// under the sentinel label.
type Warning struct {
	Kind     WarningKind
	Filename string
	// Label is the rejected candidate, if one was extracted.
	Label  string
	Detail string
}

func (w Warning) Error() string {
	switch w.Kind {
	case WarnUnknownDevice:
		return fmt.Sprintf("unknown device prefix %q in filename %q", w.Label, w.Filename)
	case WarnMalformedDevice:
		return fmt.Sprintf("cannot parse device prefix from %q: %s", w.Filename, w.Detail)
	case WarnMalformedChannel:
		return fmt.Sprintf("cannot parse channel from %q: %s", w.Filename, w.Detail)
	default:
		return fmt.Sprintf("classification warning for %q: %s", w.Filename, w.Detail)
	}
}

// Result is the outcome of classifying one filename.
type Result struct {
	Filename string
	Device   string
	Channel  string
	Warnings []Warning
}

// Unclassified reports whether either label fell back to a sentinel.
func (r Result) Unclassified() bool {
	return IsSentinel(r.Device) || IsSentinel(r.Channel)
}

// IsSentinel reports whether label is one of the fallback labels.
func IsSentinel(label string) bool {
	switch label {
	case Unknown, UnknownDevice, ParseError:
		return true
	}
	return false
}

// Known is the immutable set of configured device labels.
type Known struct {
	names []string
	set   map[string]struct{}
}

// NewKnown builds a Known set, preserving configuration order.
func NewKnown(names []string) Known {
	k := Known{set: make(map[string]struct{}, len(names))}
	for _, name := range names {
		name = norm.NFC.String(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := k.set[name]; ok {
			continue
		}
		k.set[name] = struct{}{}
		k.names = append(k.names, name)
	}
	return k
}

// Contains reports whether label is a configured device.
func (k Known) Contains(label string) bool {
	_, ok := k.set[label]
	return ok
}

// Names returns the configured labels in order.
func (k Known) Names() []string {
	return append([]string(nil), k.names...)
}

// Classify extracts device and channel labels from filename. Only the base
// name is inspected. The device and channel rules are independent.
func Classify(filename string, known Known) Result {
	name := norm.NFC.String(baseName(filename))
	res := Result{Filename: name}
	res.Device = classifyDevice(name, known, &res.Warnings)
	res.Channel = classifyChannel(name, &res.Warnings)
	return res
}

func classifyDevice(name string, known Known, warnings *[]Warning) string {
	if !strings.HasPrefix(name, "[") {
		return Unknown
	}
	end := strings.IndexByte(name[1:], ']')
	if end < 0 {
		// no closing bracket: the name does not carry a device prefix at all
		return Unknown
	}
	candidate := name[1 : end+1]
	if problem := labelProblem(candidate); problem != "" {
		*warnings = append(*warnings, Warning{Kind: WarnMalformedDevice, Filename: name, Label: candidate, Detail: problem})
		return ParseError
	}
	if !known.Contains(candidate) {
		*warnings = append(*warnings, Warning{Kind: WarnUnknownDevice, Filename: name, Label: candidate})
		return UnknownDevice
	}
	return candidate
}

func classifyChannel(name string, warnings *[]Warning) string {
	idx := strings.Index(name, channelMarker)
	if idx < 0 {
		return Unknown
	}
	rest := name[idx+len(channelMarker):]
	if cut := strings.IndexByte(rest, '_'); cut >= 0 {
		rest = rest[:cut]
	}
	if rest == "" {
		*warnings = append(*warnings, Warning{Kind: WarnMalformedChannel, Filename: name, Detail: "empty channel after " + channelMarker})
		return ParseError
	}
	label := "CH" + rest
	if problem := labelProblem(label); problem != "" {
		*warnings = append(*warnings, Warning{Kind: WarnMalformedChannel, Filename: name, Label: label, Detail: problem})
		return ParseError
	}
	return label
}

// labelProblem rejects labels that would not stay a single directory
// under the storage root. Empty labels are left to the caller.
func labelProblem(label string) string {
	switch {
	case label == "." || label == "..":
		return "label is a relative path element"
	case strings.ContainsAny(label, "/\\\x00"):
		return "label contains a path separator"
	}
	return ""
}

func baseName(filename string) string {
	if i := strings.LastIndexAny(filename, "/\\"); i >= 0 {
		return filename[i+1:]
	}
	return filename
}
