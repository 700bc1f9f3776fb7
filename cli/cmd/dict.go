package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/saumyakr1232/can-msg-visualizer/cli/render"
	"github.com/saumyakr1232/can-msg-visualizer/dict"
)

// DictSummaryView is the response for dict inspect.
type DictSummaryView struct {
	Path     string `json:"path"`
	Messages int    `json:"messages"`
	Signals  int    `json:"signals"`
	Checksum string `json:"checksum"`
}

// DictMessageView is one row of dict messages output.
type DictMessageView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Length  int    `json:"length"`
	Signals int    `json:"signals"`
}

// DictSignalView is one row of dict signals output.
type DictSignalView struct {
	Message  string  `json:"message"`
	Signal   string  `json:"signal"`
	StartBit int     `json:"start_bit"`
	Length   int     `json:"length"`
	Order    string  `json:"order"`
	Scale    float64 `json:"scale"`
	Offset   float64 `json:"offset"`
	Unit     string  `json:"unit"`
	Kind     string  `json:"kind"`
}

// DictCommand returns the dict command with subcommands.
func DictCommand() *cli.Command {
	dictFlag := &cli.StringFlag{
		Name:     "dict",
		Aliases:  []string{"d"},
		Usage:    "Path to signal dictionary (YAML)",
		Required: true,
	}
	return &cli.Command{
		Name:  "dict",
		Usage: "Inspect a signal dictionary",
		Subcommands: []*cli.Command{
			{
				Name:   "inspect",
				Usage:  "Show dictionary summary",
				Flags:  append(ReadOnlyFlags(), dictFlag),
				Action: dictInspectAction,
			},
			{
				Name:   "messages",
				Usage:  "List message layouts",
				Flags:  append(ReadOnlyFlags(), dictFlag),
				Action: dictMessagesAction,
			},
			{
				Name:   "signals",
				Usage:  "List signal definitions",
				Flags:  append(ReadOnlyFlags(), dictFlag),
				Action: dictSignalsAction,
			},
		},
	}
}

func dictInspectAction(c *cli.Context) error {
	path := c.String("dict")
	d, err := dict.LoadYAML(path)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(DictSummaryView{
		Path:     path,
		Messages: d.MessageCount(),
		Signals:  d.SignalCount(),
		Checksum: d.Checksum(),
	})
}

func dictMessagesAction(c *cli.Context) error {
	d, err := dict.LoadYAML(c.String("dict"))
	if err != nil {
		return err
	}
	var views []DictMessageView
	for _, msg := range d.Messages() {
		views = append(views, DictMessageView{
			ID:      fmt.Sprintf("0x%X", msg.ID),
			Name:    msg.Name,
			Length:  msg.Length,
			Signals: len(msg.Signals),
		})
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(views)
}

func dictSignalsAction(c *cli.Context) error {
	d, err := dict.LoadYAML(c.String("dict"))
	if err != nil {
		return err
	}
	var views []DictSignalView
	for _, msg := range d.Messages() {
		for _, sig := range msg.Signals {
			views = append(views, DictSignalView{
				Message:  msg.Name,
				Signal:   sig.Name,
				StartBit: sig.StartBit,
				Length:   sig.Length,
				Order:    string(sig.Order),
				Scale:    sig.Scale,
				Offset:   sig.Offset,
				Unit:     sig.Unit,
				Kind:     sig.Kind().String(),
			})
		}
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(views)
}
