package signal

import (
	"encoding/json"
	"fmt"
	"strings"
)

const separator = "---"

type scanState int

const (
	stateHeader scanState = iota
	stateSeparator
	statePayloadStart
	statePayloadScan
	statePayloadEnd
)

// Parse inspects a model reply. A reply whose first non-blank line is not a
// reserved token is plain text and yields a Result without a Signal. A reply
// that names a token but carries a malformed payload yields a *ParseError.
func Parse(text string) (Result, error) {
	trimmed := strings.TrimSpace(text)
	lines := strings.Split(trimmed, "\n")
	p := parser{lines: lines}
	return p.run(text)
}

type parser struct {
	lines []string
	pos   int
	kind  Kind

	depth    int
	inString bool
	escaped  bool

	payload strings.Builder
	trailer []string
}

func (p *parser) run(original string) (Result, error) {
	state := stateHeader
	for {
		switch state {
		case stateHeader:
			k, ok := lookupKind(strings.TrimSpace(p.lines[0]))
			if !ok {
				return Result{Text: original}, nil
			}
			p.kind = k
			p.pos = 1
			state = stateSeparator

		case stateSeparator:
			line, ok := p.nextNonBlank()
			if !ok || line != separator {
				return Result{}, p.fail("missing --- separator after token", nil)
			}
			if p.kind == ReadyToCreate {
				return p.finishGoal()
			}
			state = statePayloadStart

		case statePayloadStart:
			found := false
			for p.pos < len(p.lines) {
				if strings.HasPrefix(strings.TrimSpace(p.lines[p.pos]), "{") {
					found = true
					break
				}
				p.pos++
			}
			if !found {
				return Result{}, p.fail("no JSON object after separator", nil)
			}
			state = statePayloadScan

		case statePayloadScan:
			closed := false
			for p.pos < len(p.lines) && !closed {
				line := p.lines[p.pos]
				if p.payload.Len() == 0 {
					line = strings.TrimLeft(line, " \t")
				}
				cut := p.scanLine(line)
				if cut >= 0 {
					p.payload.WriteString(line[:cut+1])
					if rest := strings.TrimSpace(line[cut+1:]); rest != "" {
						p.trailer = append(p.trailer, rest)
					}
					closed = true
				} else {
					p.payload.WriteString(line)
					p.payload.WriteByte('\n')
				}
				p.pos++
			}
			if !closed {
				return Result{}, p.fail("unterminated JSON object", nil)
			}
			state = statePayloadEnd

		case statePayloadEnd:
			payload, err := p.decode()
			if err != nil {
				return Result{}, err
			}
			rest, dropped := dropObjects(p.lines[p.pos:])
			p.trailer = append(p.trailer, rest...)
			return Result{
				Signal:         &Signal{Kind: p.kind, Payload: payload},
				Text:           strings.TrimSpace(strings.Join(p.trailer, "\n")),
				DroppedObjects: dropped,
			}, nil
		}
	}
}

// dropObjects removes JSON-like objects from the text after a payload. Only
// one payload per reply is applied, so extra objects are never shown as prose.
func dropObjects(lines []string) ([]string, int) {
	var (
		kept    []string
		dropped int
	)
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(strings.TrimSpace(lines[i]), "{") {
			kept = append(kept, lines[i])
			continue
		}
		dropped++
		var sc parser
		for ; i < len(lines); i++ {
			line := lines[i]
			if cut := sc.scanLine(line); cut >= 0 {
				if rest := strings.TrimSpace(line[cut+1:]); rest != "" {
					kept = append(kept, rest)
				}
				break
			}
		}
	}
	return kept, dropped
}

func (p *parser) nextNonBlank() (string, bool) {
	for p.pos < len(p.lines) {
		line := strings.TrimSpace(p.lines[p.pos])
		p.pos++
		if line != "" {
			return line, true
		}
	}
	return "", false
}

// scanLine advances the brace counter over one line and returns the index
// of the brace that closes the outermost object, or -1. Braces inside JSON
// strings are ignored; string state carries across lines.
func (p *parser) scanLine(line string) int {
	for i := 0; i < len(line); i++ {
		c := line[i]
		if p.inString {
			switch {
			case p.escaped:
				p.escaped = false
			case c == '\\':
				p.escaped = true
			case c == '"':
				p.inString = false
			}
			continue
		}
		switch c {
		case '"':
			p.inString = true
		case '{':
			p.depth++
		case '}':
			p.depth--
			if p.depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (p *parser) decode() (Payload, error) {
	raw := []byte(p.payload.String())
	var (
		payload Payload
		err     error
	)
	switch p.kind {
	case GenerateActions:
		var v GeneratedAction
		err = json.Unmarshal(raw, &v)
		payload = v
	case GenerateAsset:
		var v GeneratedAsset
		err = json.Unmarshal(raw, &v)
		payload = v
	case StoreMeasurement:
		payload, err = decodeMeasurement(raw)
	}
	if err != nil {
		return nil, p.fail("invalid JSON payload", err)
	}
	if err := payload.validate(); err != nil {
		return nil, p.fail("invalid payload", err)
	}
	return payload, nil
}

// decodeMeasurement distinguishes a missing score from a zero score.
func decodeMeasurement(raw []byte) (Payload, error) {
	var wire struct {
		Dimensions []struct {
			Name  string   `json:"name"`
			Score *float64 `json:"score"`
			Notes *string  `json:"notes"`
		} `json:"dimensions"`
		Notes *string `json:"notes"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	m := Measurement{Notes: wire.Notes}
	for i, d := range wire.Dimensions {
		if d.Score == nil {
			return nil, fmt.Errorf("dimensions[%d].score is required", i)
		}
		m.Dimensions = append(m.Dimensions, Dimension{Name: d.Name, Score: *d.Score, Notes: d.Notes})
	}
	return m, nil
}

func (p *parser) fail(reason string, err error) *ParseError {
	return &ParseError{Kind: p.kind, Reason: reason, Err: err}
}
