package model

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewCommandID generates an identifier for a command instance. The id embeds
// the task name after a ULID so that observers can match any command back to
// the task that produced it without a lookup. ulid.Make is safe for
// concurrent use, and ids generated within the same millisecond remain
// monotonically ordered.
func NewCommandID(name string) string {
	return ulid.Make().String() + "_" + name
}

// CommandName extracts the task name embedded in a command id. It returns
// the empty string when id does not carry a name suffix.
func CommandName(id string) string {
	_, name, ok := strings.Cut(id, "_")
	if !ok {
		return ""
	}
	return name
}
