package trace

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// EventKind says where a record was captured and whether it opens (entry)
// or closes (exit) a call. Entry kinds are odd; each exit is its entry + 1.
type EventKind uint8

const (
	Unknown EventKind = iota
	DirectEntry
	DirectExit
	ClientEntry
	ClientExit
	ServerEntry
	ServerExit
	PassthroughEntry
	PassthroughExit
	SyncCallbackEntry
	SyncCallbackExit
	AsyncCallbackEntry
	AsyncCallbackExit
)

var eventNames = [...]string{
	Unknown:            "unknown",
	DirectEntry:        "direct_entry",
	DirectExit:         "direct_exit",
	ClientEntry:        "client_api_entry",
	ClientExit:         "client_api_exit",
	ServerEntry:        "server_api_entry",
	ServerExit:         "server_api_exit",
	PassthroughEntry:   "passthrough_entry",
	PassthroughExit:    "passthrough_exit",
	SyncCallbackEntry:  "sync_callback_entry",
	SyncCallbackExit:   "sync_callback_exit",
	AsyncCallbackEntry: "async_callback_entry",
	AsyncCallbackExit:  "async_callback_exit",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// ParseEventKind is the inverse of String.
func ParseEventKind(s string) (EventKind, error) {
	for i, n := range eventNames {
		if n == s {
			return EventKind(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown event kind %q", s)
}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool { return k <= AsyncCallbackExit }

// IsEntry reports whether k opens a call.
func (k EventKind) IsEntry() bool { return k.Valid() && k%2 == 1 }

// IsExit reports whether k closes a call.
func (k EventKind) IsExit() bool { return k.Valid() && k != Unknown && k%2 == 0 }

// Exit returns the exit kind matching an entry kind.
func (k EventKind) Exit() EventKind {
	if k.IsEntry() {
		return k + 1
	}
	return Unknown
}

// Entry returns the entry kind matching an exit kind.
func (k EventKind) Entry() EventKind {
	if k.IsExit() {
		return k - 1
	}
	return Unknown
}

// Pairs reports whether entry followed by exit forms a matched call.
func Pairs(entry, exit EventKind) bool {
	return entry.IsEntry() && exit == entry.Exit()
}

// MarshalYAML writes the kind by name.
func (k EventKind) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

// UnmarshalYAML reads a kind by name.
func (k *EventKind) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := ParseEventKind(s)
	if err != nil {
		return err
	}
	*k = v
	return nil
}
