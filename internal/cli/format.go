package cli

import (
	"fmt"
	"strings"

	"github.com/bhandras/greeter/internal/session"
)

// formatSnapshot renders one line per state for watch.
func formatSnapshot(s session.Snapshot) string {
	var b strings.Builder
	b.WriteString(string(s.Connection))
	if account := s.AccountDisplay(); account != "" {
		fmt.Fprintf(&b, " %s", account)
	}
	if value, ok := s.Value(); ok {
		fmt.Fprintf(&b, " greeting=%q", value)
	} else {
		b.WriteString(" greeting=?")
	}
	if s.Busy {
		b.WriteString(" busy")
	}
	if s.PendingInput != "" {
		fmt.Fprintf(&b, " draft=%q", s.PendingInput)
	}
	if s.LastError != nil {
		fmt.Fprintf(&b, " error=%q", s.LastError.String())
	}
	return b.String()
}
