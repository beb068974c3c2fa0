package msg

import (
	"fmt"
	"sort"
	"strings"
)

// Message is the command envelope exchanged between orchestrator and node.
// Cmd is an uppercase verb; Args and Kwargs carry any codec-serializable
// values, including file handles.
type Message struct {
	Cmd    string
	Args   []any
	Kwargs map[string]any
}

// New builds a message from a command and positional arguments.
func New(cmd string, args ...any) *Message {
	return &Message{Cmd: cmd, Args: args}
}

// WithKwargs attaches keyword arguments and returns the message.
func (m *Message) WithKwargs(kwargs map[string]any) *Message {
	m.Kwargs = kwargs
	return m
}

// OK reports whether the message is a success reply.
func (m *Message) OK() bool {
	return m.Cmd == "OK"
}

// Error converts an ERROR reply into a Go error, or nil for anything else.
func (m *Message) Error() error {
	if m.Cmd != "ERROR" {
		return nil
	}
	if len(m.Args) > 0 {
		return fmt.Errorf("%v", m.Args[0])
	}
	return fmt.Errorf("remote error")
}

// String renders the message as CMD(arg, key=value) for logs.
func (m *Message) String() string {
	params := make([]string, 0, len(m.Args)+len(m.Kwargs))
	for _, v := range m.Args {
		params = append(params, fmt.Sprintf("%#v", v))
	}
	keys := make([]string, 0, len(m.Kwargs))
	for k := range m.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params = append(params, fmt.Sprintf("%s=%#v", k, m.Kwargs[k]))
	}
	return m.Cmd + "(" + strings.Join(params, ", ") + ")"
}
