package signal

import (
	"strings"
)

const (
	labelTitle    = "TITLE:"
	labelGoal     = "GOAL:"
	labelCriteria = "SUCCESS_CRITERIA:"
	labelTimeline = "TIMELINE:"
)

var goalLabels = []string{labelTitle, labelGoal, labelCriteria, labelTimeline}

func splitLabel(line string) (label, rest string, ok bool) {
	for _, l := range goalLabels {
		if strings.HasPrefix(line, l) {
			return l, strings.TrimSpace(line[len(l):]), true
		}
	}
	return "", "", false
}

// finishGoal reads the labeled READY_TO_CREATE block. GOAL and TIMELINE
// absorb non-blank continuation lines; SUCCESS_CRITERIA collects "- " bullets.
// The block ends at the end of the reply or at a closing --- line.
func (p *parser) finishGoal() (Result, error) {
	var (
		g        Goal
		current  string
		goal     []string
		timeline []string
	)
	for ; p.pos < len(p.lines); p.pos++ {
		line := strings.TrimSpace(p.lines[p.pos])
		if line == separator {
			p.pos++
			break
		}
		if line == "" {
			continue
		}
		if label, rest, ok := splitLabel(line); ok {
			current = label
			switch label {
			case labelTitle:
				g.Title = rest
			case labelGoal:
				goal = appendNonEmpty(nil, rest)
			case labelTimeline:
				timeline = appendNonEmpty(nil, rest)
			case labelCriteria:
				if rest != "" {
					g.SuccessCriteria = append(g.SuccessCriteria, bullet(rest))
				}
			}
			continue
		}
		switch current {
		case labelGoal:
			goal = append(goal, line)
		case labelTimeline:
			timeline = append(timeline, line)
		case labelCriteria:
			if strings.HasPrefix(line, "-") || len(g.SuccessCriteria) == 0 {
				g.SuccessCriteria = append(g.SuccessCriteria, bullet(line))
			} else {
				last := len(g.SuccessCriteria) - 1
				g.SuccessCriteria[last] += "\n" + line
			}
		case labelTitle:
			g.Title += " " + line
		}
	}
	g.Goal = strings.Join(goal, "\n")
	g.Timeline = strings.Join(timeline, "\n")
	if err := g.validate(); err != nil {
		return Result{}, p.fail("invalid payload", err)
	}
	var text string
	if p.pos < len(p.lines) {
		text = strings.TrimSpace(strings.Join(p.lines[p.pos:], "\n"))
	}
	return Result{Signal: &Signal{Kind: ReadyToCreate, Payload: g}, Text: text}, nil
}

func bullet(line string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, "-"))
}

func appendNonEmpty(dst []string, s string) []string {
	if s == "" {
		return dst
	}
	return append(dst, s)
}
