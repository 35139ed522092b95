package dataset

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"mongoagent/internal/domain"
)

//go:embed query_cases.yaml
var queryCasesYAML []byte

//go:embed conversation_cases.yaml
var conversationCasesYAML []byte

// Input is the stimulus side of a case: the question text and the date that
// "today" resolves to. The {today} placeholder in the text is substituted at
// load time.
type Input struct {
	Text     string `yaml:"text"`
	AsOfDate string `yaml:"as_of_date,omitempty"`
}

// Case is one evaluation fixture: a question, its expected outcome, and a
// difficulty tag for reporting.
type Case struct {
	Name       string             `yaml:"name"`
	Input      Input              `yaml:"input"`
	Expected   domain.Expectation `yaml:"expected"`
	Difficulty string             `yaml:"difficulty,omitempty"`
}

type fileFormat struct {
	Cases []Case `yaml:"cases"`
}

// Load reads and validates a case file. A fixture that fails validation
// aborts the whole load; scoring a silently-broken fixture would corrupt
// every report downstream.
func Load(r io.Reader) ([]Case, error) {
	var file fileFormat
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("dataset: decode: %w", err)
	}
	if len(file.Cases) == 0 {
		return nil, fmt.Errorf("dataset: no cases defined")
	}

	seen := make(map[string]bool, len(file.Cases))
	for i := range file.Cases {
		c := &file.Cases[i]
		if err := validate(c); err != nil {
			return nil, fmt.Errorf("dataset: case %d (%q): %w", i+1, c.Name, err)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("dataset: duplicate case name %q", c.Name)
		}
		seen[c.Name] = true
		if c.Input.AsOfDate != "" {
			c.Input.Text = strings.ReplaceAll(c.Input.Text, "{today}", c.Input.AsOfDate)
		}
	}
	return file.Cases, nil
}

// LoadFile loads a case file from disk.
func LoadFile(path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// DefaultQueryCases returns the built-in canonical-query fixtures.
func DefaultQueryCases() ([]Case, error) {
	return Load(bytes.NewReader(queryCasesYAML))
}

// DefaultConversationCases returns the built-in conversation fixtures.
func DefaultConversationCases() ([]Case, error) {
	return Load(bytes.NewReader(conversationCasesYAML))
}

func validate(c *Case) error {
	if c.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if c.Input.Text == "" {
		return fmt.Errorf("input text must not be empty")
	}
	hasQuery := len(c.Expected.Query) > 0
	hasConversation := len(c.Expected.Conversation) > 0
	if hasQuery == hasConversation {
		return fmt.Errorf("exactly one of expected.query or expected.conversation must be set")
	}
	for i, turn := range c.Expected.Conversation {
		switch turn.Role {
		case "user", "assistant":
		case "tool_call":
			if turn.Tool == "" {
				return fmt.Errorf("conversation turn %d: tool_call requires a tool name", i+1)
			}
		default:
			return fmt.Errorf("conversation turn %d: unknown role %q", i+1, turn.Role)
		}
	}
	return nil
}
