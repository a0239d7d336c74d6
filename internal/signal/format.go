package signal

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format renders a payload in the wire form Parse accepts. For every valid
// payload p, Parse(Format(p)) yields p again.
func Format(p Payload) (string, error) {
	if err := p.validate(); err != nil {
		return "", &ParseError{Kind: p.Kind(), Reason: "invalid payload", Err: err}
	}
	var b strings.Builder
	b.WriteString(string(p.Kind()))
	b.WriteString("\n" + separator + "\n")

	if g, ok := p.(Goal); ok {
		fmt.Fprintf(&b, "%s %s\n", labelTitle, g.Title)
		fmt.Fprintf(&b, "%s %s\n", labelGoal, g.Goal)
		b.WriteString(labelCriteria + "\n")
		for _, c := range g.SuccessCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		fmt.Fprintf(&b, "%s %s\n", labelTimeline, g.Timeline)
		return b.String(), nil
	}

	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	b.Write(raw)
	b.WriteByte('\n')
	return b.String(), nil
}
