package dict

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yaml schema for dictionary files consumed by the CLI. The pipeline
// itself only ever sees the constructed Dictionary.

type fileSchema struct {
	Messages []messageSchema `yaml:"messages"`
}

type messageSchema struct {
	Name    string         `yaml:"name"`
	ID      uint32         `yaml:"id"`
	Length  int            `yaml:"length"`
	Comment string         `yaml:"comment"`
	Signals []signalSchema `yaml:"signals"`
}

type signalSchema struct {
	Name     string           `yaml:"name"`
	StartBit int              `yaml:"start_bit"`
	Length   int              `yaml:"length"`
	Order    string           `yaml:"byte_order"`
	Signed   bool             `yaml:"signed"`
	Scale    float64          `yaml:"scale"`
	Offset   float64          `yaml:"offset"`
	Unit     string           `yaml:"unit"`
	Comment  string           `yaml:"comment"`
	Enum     map[int64]string `yaml:"enum"`
}

// LoadYAML reads a YAML dictionary definition file and builds a
// Dictionary from it. This is a caller-side convenience for the CLI;
// embedders may construct dictionaries from any definition source and
// hand them to the pipeline directly.
func LoadYAML(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dictionary file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML builds a Dictionary from YAML dictionary bytes.
func ParseYAML(data []byte) (*Dictionary, error) {
	var file fileSchema
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse dictionary yaml: %w", err)
	}

	messages := make([]Message, 0, len(file.Messages))
	for _, m := range file.Messages {
		msg := Message{
			Name:    m.Name,
			ID:      m.ID,
			Length:  m.Length,
			Comment: m.Comment,
			Signals: make([]Signal, 0, len(m.Signals)),
		}
		for _, s := range m.Signals {
			msg.Signals = append(msg.Signals, Signal{
				Name:     s.Name,
				StartBit: s.StartBit,
				Length:   s.Length,
				Order:    ByteOrder(s.Order),
				Signed:   s.Signed,
				Scale:    s.Scale,
				Offset:   s.Offset,
				Unit:     s.Unit,
				Comment:  s.Comment,
				Enum:     s.Enum,
			})
		}
		messages = append(messages, msg)
	}

	return New(messages)
}
