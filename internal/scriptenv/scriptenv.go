// Package scriptenv builds the environment variables passed to external
// user scripts and parses their stdout protocol (§6), shared by the
// Pre/Post-Processor's post-script step and the Queue-Script Hook.
package scriptenv

import "strings"

// EnvOptionVars renders every configuration option as NZBOP_<UPPER_NAME>,
// with '.' replaced by '_' in the name, grounded on
// ScriptController::PrepareEnvOptions.
func EnvOptionVars(options map[string]string) []string {
	out := make([]string, 0, len(options))
	for name, value := range options {
		out = append(out, normalizeVarName("NZBOP_"+name)+"="+value)
	}
	return out
}

// EnvParameterVars renders every per-NzbInfo parameter as NZBPR_<name>
// verbatim, plus a second normalized copy with '.', ':' and '*' replaced by
// '_' and upper-cased, grounded on ScriptController::PrepareEnvParameters.
func EnvParameterVars(params map[string]string) []string {
	out := make([]string, 0, len(params)*2)
	for name, value := range params {
		plain := "NZBPR_" + name
		out = append(out, plain+"="+value)

		norm := normalizeParamVarName(plain)
		if norm != plain {
			out = append(out, norm+"="+value)
		}
	}
	return out
}

func normalizeVarName(name string) string {
	name = strings.ReplaceAll(name, ".", "_")
	return strings.ToUpper(name)
}

func normalizeParamVarName(name string) string {
	replacer := strings.NewReplacer(".", "_", ":", "_", "*", "_")
	return strings.ToUpper(replacer.Replace(name))
}

// Directive is one side-effecting "[NZB] ..." stdout line.
type Directive struct {
	SetParameter string // non-empty: a NZBPR_<name>=value line; Value holds the value
	SetDirectory string // non-empty: a DIRECTORY=... line
	MarkBad      bool
	Key          string
	Value        string
}

// ParseDirective recognizes one "[NZB] ..." stdout line (§6): NZBPR_name=value,
// DIRECTORY=..., MARK=BAD, or a generic key=value. ok is false for a line
// that is not a "[NZB] " directive at all.
func ParseDirective(line string) (Directive, bool) {
	const prefix = "[NZB] "
	if !strings.HasPrefix(line, prefix) {
		return Directive{}, false
	}
	body := strings.TrimPrefix(line, prefix)

	switch {
	case strings.HasPrefix(body, "NZBPR_"):
		rest := strings.TrimPrefix(body, "NZBPR_")
		k, v, ok := strings.Cut(rest, "=")
		if !ok {
			return Directive{}, false
		}
		return Directive{SetParameter: k, Value: v}, true
	case strings.HasPrefix(body, "DIRECTORY="):
		return Directive{SetDirectory: strings.TrimPrefix(body, "DIRECTORY=")}, true
	case body == "MARK=BAD":
		return Directive{MarkBad: true}, true
	default:
		k, v, ok := strings.Cut(body, "=")
		if !ok {
			return Directive{}, false
		}
		return Directive{Key: k, Value: v}, true
	}
}

// LogKind is the message severity enum used by the per-NzbInfo log (§6).
type LogKind int

const (
	LogInfo LogKind = iota
	LogWarning
	LogError
	LogDetail
	LogDebug
)

var logPrefixes = map[string]LogKind{
	"[INFO] ":    LogInfo,
	"[WARNING] ": LogWarning,
	"[ERROR] ":   LogError,
	"[DETAIL] ":  LogDetail,
	"[DEBUG] ":   LogDebug,
}

// ParseLogLine strips a recognized severity prefix from a script stdout
// line. ok is false for a line with no recognized prefix (treated as plain
// INFO by the caller).
func ParseLogLine(line string) (kind LogKind, text string, ok bool) {
	for prefix, k := range logPrefixes {
		if strings.HasPrefix(line, prefix) {
			return k, strings.TrimPrefix(line, prefix), true
		}
	}
	return 0, line, false
}
