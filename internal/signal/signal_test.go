package signal

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestPlainReplyHasNoSignal(t *testing.T) {
	for _, text := range []string{
		"",
		"Sounds good, let's start tomorrow.",
		"I could GENERATE_ACTIONS for you later.\n---\n{}",
		"GENERATE_ACTIONS please",
	} {
		res, err := Parse(text)
		require.NoError(t, err, text)
		assert.Nil(t, res.Signal, text)
		assert.Equal(t, text, res.Text)
	}
}

func TestParseGeneratedAction(t *testing.T) {
	text := `
GENERATE_ACTIONS
---
{
  "title": "Write LinkedIn posts",
  "description": "Three posts about the launch",
  "priority": "high",
  "taskConfig": {
    "instructions": "Draft posts with {hooks} and a CTA",
    "expectedOutput": "3 posts"
  }
}
Want me to tweak anything?`

	res, err := Parse(text)
	require.NoError(t, err)
	require.NotNil(t, res.Signal)
	assert.Equal(t, GenerateActions, res.Signal.Kind)
	want := GeneratedAction{
		Title:       "Write LinkedIn posts",
		Description: "Three posts about the launch",
		Priority:    "high",
		TaskConfig: ActionTaskConfig{
			Instructions:   "Draft posts with {hooks} and a CTA",
			ExpectedOutput: "3 posts",
		},
	}
	if diff := cmp.Diff(want, res.Signal.Payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "Want me to tweak anything?", res.Text)
}

func TestBracesInsideStringsDoNotEndPayload(t *testing.T) {
	text := "GENERATE_ASSET\n---\n" +
		`{"title": "Snippet", "description": "closing } in text", "type": "code",` + "\n" +
		`"content": "func main() {\n}\" }"} trailing words`
	res, err := Parse(text)
	require.NoError(t, err)
	asset, ok := res.Signal.Payload.(GeneratedAsset)
	require.True(t, ok)
	assert.Equal(t, "closing } in text", asset.Description)
	assert.Equal(t, "func main() {\n}\" }", asset.Content)
	assert.Equal(t, "trailing words", res.Text)
}

func TestMalformedSignals(t *testing.T) {
	cases := map[string]string{
		"missing separator": "GENERATE_ASSET\n{\"title\": \"x\"}",
		"no object":         "GENERATE_ASSET\n---\njust words",
		"unterminated":      "GENERATE_ASSET\n---\n{\"title\": \"x\",\n\"type\": \"text\"",
		"bad json":          "GENERATE_ASSET\n---\n{\"title\": x}",
		"bad asset type":    "GENERATE_ASSET\n---\n{\"title\":\"a\",\"description\":\"b\",\"type\":\"pdf\",\"content\":\"c\"}",
		"missing fields":    "GENERATE_ACTIONS\n---\n{\"title\":\"a\"}",
		"bad priority":      "GENERATE_ACTIONS\n---\n{\"title\":\"a\",\"description\":\"b\",\"priority\":\"urgent\",\"taskConfig\":{\"instructions\":\"i\",\"expectedOutput\":\"o\"}}",
		"empty dimensions":  "STORE_MEASUREMENT\n---\n{\"dimensions\": []}",
		"missing score":     "STORE_MEASUREMENT\n---\n{\"dimensions\": [{\"name\": \"mood\"}]}",
		"goal no criteria":  "READY_TO_CREATE\n---\nTITLE: t\nGOAL: g\nTIMELINE: soon",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(text)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.NotEmpty(t, pe.Reason)
		})
	}
}

func TestParseMeasurementKeepsZeroScores(t *testing.T) {
	res, err := Parse("STORE_MEASUREMENT\n---\n{\"dimensions\":[{\"name\":\"energy\",\"score\":0},{\"name\":\"mood\",\"score\":7.5,\"notes\":\"better\"}],\"notes\":null}")
	require.NoError(t, err)
	want := Measurement{Dimensions: []Dimension{
		{Name: "energy", Score: 0},
		{Name: "mood", Score: 7.5, Notes: strPtr("better")},
	}}
	if diff := cmp.Diff(want, res.Signal.Payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestParseReadyToCreate(t *testing.T) {
	text := `READY_TO_CREATE
---
TITLE: Run a half marathon
GOAL: Finish a half marathon
under two hours
SUCCESS_CRITERIA:
- Run 3x per week
- Long run of 18km
TIMELINE: 12 weeks
starting Monday
---
Great, creating your agent now.`

	res, err := Parse(text)
	require.NoError(t, err)
	want := Goal{
		Title:           "Run a half marathon",
		Goal:            "Finish a half marathon\nunder two hours",
		SuccessCriteria: []string{"Run 3x per week", "Long run of 18km"},
		Timeline:        "12 weeks\nstarting Monday",
	}
	if diff := cmp.Diff(want, res.Signal.Payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "Great, creating your agent now.", res.Text)
}

func TestFormatRoundTrip(t *testing.T) {
	payloads := []Payload{
		GeneratedAction{
			Title:       "Schedule check-ins",
			Description: "Daily mood check",
			TaskType:    "scheduled",
			TaskConfig:  ActionTaskConfig{Instructions: "Ask {how} are you", ExpectedOutput: "a score"},
		},
		GeneratedAsset{Title: "Prompt", Description: "System prompt", Type: "prompt", Content: "You are \"helpful\" }{"},
		Measurement{Dimensions: []Dimension{{Name: "focus", Score: 4}}, Notes: strPtr("slept badly")},
		Goal{
			Title:           "Learn Go",
			Goal:            "Ship a CLI\nwith tests",
			SuccessCriteria: []string{"One release", "CI green"},
			Timeline:        "6 weeks",
		},
	}
	for _, p := range payloads {
		t.Run(string(p.Kind()), func(t *testing.T) {
			text, err := Format(p)
			require.NoError(t, err)
			res, err := Parse(text)
			require.NoError(t, err)
			require.NotNil(t, res.Signal)
			assert.Equal(t, p.Kind(), res.Signal.Kind)
			if diff := cmp.Diff(p, res.Signal.Payload); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
			assert.Empty(t, res.Text)
		})
	}
}

func TestFormatRejectsInvalidPayload(t *testing.T) {
	_, err := Format(GeneratedAsset{Title: "x"})
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestSecondObjectIsNotShownAsReply(t *testing.T) {
	text := `GENERATE_ACTIONS
---
{"title": "First", "description": "kept", "taskConfig": {"instructions": "do it", "expectedOutput": "done"}}
{
  "title": "Second",
  "description": "has a } in \"text\""
}
Which one first?
{"title": "Third"} and that's all`

	res, err := Parse(text)
	require.NoError(t, err)
	require.NotNil(t, res.Signal)
	assert.Equal(t, "First", res.Signal.Payload.(GeneratedAction).Title)
	assert.Equal(t, "Which one first?\nand that's all", res.Text)
	assert.Equal(t, 2, res.DroppedObjects)
}

func TestTrailingProseIsKept(t *testing.T) {
	res, err := Parse("GENERATE_ASSET\n---\n{\"title\":\"T\",\"description\":\"D\",\"type\":\"text\",\"content\":\"C\"}\nHere it is.\n- tweak the intro?")
	require.NoError(t, err)
	assert.Equal(t, "Here it is.\n- tweak the intro?", res.Text)
	assert.Zero(t, res.DroppedObjects)
}
