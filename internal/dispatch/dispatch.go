// Package dispatch tokenises inbound MQTT command payloads and
// provides the getParamValue clamp helper used throughout the task
// spine to pull bounded integers out of the parsed parameter list.
package dispatch

import (
	"strconv"
	"strings"
)

// delimiters is the set of characters that separate tokens in an
// inbound command payload: "COMMAND param1,param2:param3".
const delimiters = " ,:"

// ParseParams splits payload on the delimiter set into an ordered list
// of non-empty tokens. The first token is conventionally the command
// name; the rest are positional parameters addressed by index from
// GetParamValue.
func ParseParams(payload string) []string {
	return strings.FieldsFunc(payload, func(r rune) bool {
		return strings.ContainsRune(delimiters, r)
	})
}

// Command splits payload into its command name and parameter list in
// one step. An empty payload yields an empty command name and a nil
// parameter list.
func Command(payload string) (name string, params []string) {
	tokens := ParseParams(payload)
	if len(tokens) == 0 {
		return "", nil
	}
	return tokens[0], tokens[1:]
}

// GetParamValue returns the integer at params[index-1] (1-based, as
// handlers always address "the Nth parameter after the command name"),
// clamped to [lo, hi]. A missing index or an unparseable value both
// yield def.
func GetParamValue(params []string, index, lo, hi, def int) int {
	if index < 1 || index > len(params) {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(params[index-1]))
	if err != nil {
		return def
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// Handler is the signature every registered command callback
// implements. Handlers are expected to be pure with respect to the
// dispatcher: any side effect is performed by sending a message to a
// task's own queue, never by touching dispatcher-owned state directly.
type Handler func(params []string) error

// Table is a topic's command name -> handler registry, looked up
// case-sensitively against the first token of an inbound payload.
type Table map[string]Handler

// Dispatch resolves name in the table and invokes it. It reports
// apperr.ErrUnknownCommand-compatible behaviour by returning ok=false
// when no handler is registered, leaving the caller to log and drop
// per the protocol-error taxonomy.
func (t Table) Dispatch(name string, params []string) (handled bool, err error) {
	h, ok := t[name]
	if !ok {
		return false, nil
	}
	return true, h(params)
}
