package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/statesystem"
	"golang.org/x/term"
)

var shellCommands = []prompt.Suggest{
	{Text: "full", Description: "full <t>: every attribute at t"},
	{Text: "get", Description: "get <t> <path>: one attribute at t"},
	{Text: "range", Description: "range <path> [from to [res]]: intervals of one attribute"},
	{Text: "ls", Description: "ls [path]: child attributes"},
	{Text: "info", Description: "history bounds and size"},
	{Text: "help", Description: "list commands"},
	{Text: "exit", Description: "leave the shell"},
}

func (a *app) cmdShell(args []string) error {
	fs := newFlags("shell")
	id := fs.String("id", "", "state system id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("shell: stdin is not a terminal")
	}

	ss, err := a.openHistory(*id)
	if err != nil {
		return err
	}
	defer ss.Dispose()

	sh := newShell(ss, a.out)
	p := prompt.New(
		func(line string) {
			if err := sh.execute(context.Background(), line); err != nil {
				fmt.Fprintf(a.out, "error: %v\n", err)
			}
		},
		func(d prompt.Document) []prompt.Suggest {
			return sh.suggest(d.TextBeforeCursor())
		},
		prompt.OptionPrefix(*id+"> "),
		prompt.OptionTitle("statehist "+*id),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && isExit(in)
		}),
	)
	p.Run()
	return nil
}

// shell runs interactive queries against one history.
type shell struct {
	ss    *statesystem.StateSystem
	out   io.Writer
	paths []prompt.Suggest
}

func newShell(ss *statesystem.StateSystem, out io.Writer) *shell {
	sh := &shell{ss: ss, out: out}
	for q := 0; q < ss.NumAttributes(); q++ {
		if p, err := ss.FullAttributePath(q); err == nil {
			sh.paths = append(sh.paths, prompt.Suggest{Text: p})
		}
	}
	return sh
}

func isExit(line string) bool {
	switch strings.TrimSpace(line) {
	case "exit", "quit":
		return true
	}
	return false
}

// execute runs one shell line.
func (sh *shell) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || isExit(line) {
		return nil
	}
	args := fields[1:]

	switch fields[0] {
	case "help":
		for _, c := range shellCommands {
			fmt.Fprintf(sh.out, "  %-6s %s\n", c.Text, c.Description)
		}
		return nil

	case "info":
		fmt.Fprintf(sh.out, "%s: [%d, %d], %d attributes\n",
			sh.ss.ID(), sh.ss.StartTime(), sh.ss.CurrentEndTime(), sh.ss.NumAttributes())
		return nil

	case "full":
		if len(args) != 1 {
			return errors.NewValidation("full", "usage: full <t>")
		}
		t, err := parseTime(args[0])
		if err != nil {
			return err
		}
		return printFullState(sh.out, sh.ss, t)

	case "get":
		if len(args) != 2 {
			return errors.NewValidation("get", "usage: get <t> <path>")
		}
		t, err := parseTime(args[0])
		if err != nil {
			return err
		}
		return printSingleState(sh.out, sh.ss, t, args[1])

	case "range":
		if len(args) != 1 && len(args) != 3 && len(args) != 4 {
			return errors.NewValidation("range", "usage: range <path> [from to [res]]")
		}
		bounds := [2]int64{sh.ss.StartTime(), sh.ss.CurrentEndTime()}
		var res int64
		for i, s := range args[1:] {
			v, err := parseTime(s)
			if err != nil {
				return err
			}
			if i < 2 {
				bounds[i] = v
			} else {
				res = v
			}
		}
		return printRange(ctx, sh.out, sh.ss, args[0], bounds, res)

	case "ls":
		return sh.list(args)

	default:
		return errors.NewValidation("command", fields[0])
	}
}

func (sh *shell) list(args []string) error {
	var subs []int
	if len(args) == 0 {
		var err error
		subs, err = sh.ss.QuarksMatching("*")
		if err != nil {
			return err
		}
	} else {
		q, err := lookup(sh.ss, args[0])
		if err != nil {
			return err
		}
		subs, err = sh.ss.SubAttributes(q, false)
		if err != nil {
			return err
		}
	}
	for _, q := range subs {
		p, err := sh.ss.FullAttributePath(q)
		if err != nil {
			return err
		}
		fmt.Fprintln(sh.out, p)
	}
	return nil
}

// suggest completes commands in the first word and attribute paths after.
func (sh *shell) suggest(before string) []prompt.Suggest {
	fields := strings.Fields(before)
	word := ""
	if len(before) > 0 && before[len(before)-1] != ' ' && len(fields) > 0 {
		word = fields[len(fields)-1]
		fields = fields[:len(fields)-1]
	}
	if len(fields) == 0 {
		return prompt.FilterHasPrefix(shellCommands, word, true)
	}
	return prompt.FilterHasPrefix(sh.paths, strings.TrimPrefix(word, "/"), false)
}

func parseTime(s string) (int64, error) {
	t, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.NewValidation("time", s)
	}
	return t, nil
}
