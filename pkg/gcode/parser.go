package gcode

import (
	"regexp"
	"strings"
)

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// ParseLine parses one g-code line. Blank and comment-only lines yield a
// nil command. Classic commands take letter-prefixed words (G1 X10 E2),
// extended commands take KEY=VALUE pairs (PURGE_WITH_BELT PAUSE_QTY=1).
func ParseLine(line string) (*Command, error) {
	ln := strings.TrimSpace(line)
	if ln == "" {
		return nil, nil
	}
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = strings.TrimSpace(ln[:idx])
	}
	if idx := strings.IndexByte(ln, '#'); idx >= 0 {
		ln = strings.TrimSpace(ln[:idx])
	}
	if ln == "" {
		return nil, nil
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	if ln == "" {
		return nil, nil
	}

	fields := strings.Fields(ln)
	name := strings.ToUpper(fields[0])
	params := map[string]string{}
	for _, f := range fields[1:] {
		if strings.Contains(f, "=") {
			kv := strings.SplitN(f, "=", 2)
			k := strings.ToUpper(strings.TrimSpace(kv[0]))
			if k == "" {
				return nil, errMalformed(line, "parameter without a name")
			}
			params[k] = strings.TrimSpace(kv[1])
			continue
		}
		if isExtended(name) {
			return nil, errMalformed(line, "expected KEY=VALUE, got '"+f+"'")
		}
		// single-letter flags such as "G28 X" carry no value
		k := strings.ToUpper(f[:1])
		params[k] = strings.TrimSpace(f[1:])
	}
	return &Command{Name: name, Params: params, Raw: line}, nil
}

// isExtended reports whether name is an extended (NAME KEY=VALUE) command
// rather than a classic G/M/T word.
func isExtended(name string) bool {
	if len(name) < 2 {
		return true
	}
	switch name[0] {
	case 'G', 'M', 'T':
		for _, c := range name[1:] {
			if (c < '0' || c > '9') && c != '.' {
				return true
			}
		}
		return false
	}
	return true
}
