package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/autoflow/internal/debug"
)

type debugOptions struct {
	Host   string
	Port   int
	Breaks []string
}

func newDebugCmd() *cobra.Command {
	opts := debugOptions{}

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Attach an interactive debugger to a run started with --debug-port",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Port <= 0 {
				return fmt.Errorf("--port is required")
			}
			points := make([]debug.Point, 0, len(opts.Breaks))
			for _, spec := range opts.Breaks {
				point, err := parsePoint(spec)
				if err != nil {
					return err
				}
				points = append(points, point)
			}

			addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
			client, err := debug.Dial(cmd.Context(), addr)
			if err != nil {
				return err
			}
			defer client.Close()

			session := &debugSession{client: client, out: cmd.OutOrStdout(), points: points}
			if err := client.Init(points); err != nil {
				return err
			}
			fmt.Fprintf(session.out, "Connected to %s with %d breakpoint(s). Type 'help' for commands.\n", addr, len(points))
			return session.repl(client)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "127.0.0.1", "Host of the debug server")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "Port of the debug server")
	cmd.Flags().StringArrayVar(&opts.Breaks, "break", nil, "Breakpoint as file:line[:condition] (repeatable)")

	return cmd
}

var debugCommands = []string{"break", "clear", "points", "paused", "resume", "into", "over", "return", "help", "quit"}

type debugClient interface {
	Init(points []debug.Point) error
	Send(executionID string, op debug.Op) error
	Paused() []debug.ExecutionPaused
}

// debugSession interprets debugger commands against a connected client.
type debugSession struct {
	client debugClient
	out    io.Writer
	points []debug.Point
}

var errQuit = errors.New("quit")

func (s *debugSession) repl(client *debug.Client) error {
	completer := readline.NewPrefixCompleter()
	for _, name := range debugCommands {
		completer.Children = append(completer.Children, readline.PcItem(name))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "autoflow> ",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()
	s.out = rl.Stdout()

	go func() {
		for ev := range client.Events() {
			switch {
			case ev.Paused != nil:
				p := ev.Paused
				fmt.Fprintf(s.out, "Paused %s at %s:%d (%s, depth %d)\n", p.ExecutionID, p.File, p.Line, p.Unit, p.Depth)
			case ev.Released != nil:
				fmt.Fprintf(s.out, "Released %s\n", ev.Released.ExecutionID)
			}
		}
		fmt.Fprintln(s.out, "Debug connection closed")
		_ = rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return client.Err()
			}
			return err
		}
		if err := s.execute(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

// execute runs one command line. It returns errQuit when the session ends.
func (s *debugSession) execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]

	switch fields[0] {
	case "break", "b":
		return s.addBreak(args)
	case "clear":
		return s.clearBreak(args)
	case "points":
		s.printPoints()
		return nil
	case "paused", "ps":
		s.printPaused()
		return nil
	case "resume", "continue", "c":
		return s.send(debug.OpResume, args)
	case "into", "step", "s":
		return s.send(debug.OpStepInto, args)
	case "over", "next", "n":
		return s.send(debug.OpStepOver, args)
	case "return", "out":
		return s.send(debug.OpStepReturn, args)
	case "help", "?":
		s.printHelp()
		return nil
	case "quit", "q", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type 'help' for commands", fields[0])
	}
}

func (s *debugSession) addBreak(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: break file:line[:condition]")
	}
	point, err := parsePoint(strings.Join(args, " "))
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range s.points {
		if existing.File == point.File && existing.Line == point.Line {
			s.points[i] = point
			replaced = true
		}
	}
	if !replaced {
		s.points = append(s.points, point)
	}
	if err := s.client.Init(s.points); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Breakpoint at %s:%d\n", point.File, point.Line)
	return nil
}

func (s *debugSession) clearBreak(args []string) error {
	if len(args) == 0 {
		s.points = nil
		if err := s.client.Init(nil); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "All breakpoints cleared")
		return nil
	}

	target, err := parsePoint(args[0])
	if err != nil {
		return err
	}
	kept := s.points[:0]
	removed := 0
	for _, p := range s.points {
		if p.File == target.File && p.Line == target.Line {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	if removed == 0 {
		return fmt.Errorf("no breakpoint at %s:%d", target.File, target.Line)
	}
	s.points = kept
	if err := s.client.Init(s.points); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Breakpoint at %s:%d cleared\n", target.File, target.Line)
	return nil
}

func (s *debugSession) send(op debug.Op, args []string) error {
	id, err := s.target(args)
	if err != nil {
		return err
	}
	return s.client.Send(id, op)
}

// target picks the execution named in args, or the only paused one.
func (s *debugSession) target(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	paused := s.client.Paused()
	switch len(paused) {
	case 0:
		return "", fmt.Errorf("no paused execution")
	case 1:
		return paused[0].ExecutionID, nil
	default:
		return "", fmt.Errorf("%d executions are paused, name one (see 'paused')", len(paused))
	}
}

func (s *debugSession) printPoints() {
	if len(s.points) == 0 {
		fmt.Fprintln(s.out, "No breakpoints")
		return
	}
	for _, p := range s.points {
		if p.Condition != "" {
			fmt.Fprintf(s.out, "%s:%d if %s\n", p.File, p.Line, p.Condition)
			continue
		}
		fmt.Fprintf(s.out, "%s:%d\n", p.File, p.Line)
	}
}

func (s *debugSession) printPaused() {
	paused := s.client.Paused()
	if len(paused) == 0 {
		fmt.Fprintln(s.out, "No paused executions")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(s.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Location", "Unit", "Worker", "Depth"})
	for _, p := range paused {
		t.AppendRow(table.Row{p.ExecutionID, fmt.Sprintf("%s:%d", p.File, p.Line), p.Unit, p.Worker, p.Depth})
	}
	t.Render()
}

func (s *debugSession) printHelp() {
	fmt.Fprint(s.out, `Commands:
  break file:line[:condition]  add or replace a breakpoint
  clear [file:line]            remove one breakpoint, or all of them
  points                       list breakpoints
  paused                       list paused executions
  resume [id]                  continue until the next breakpoint
  into [id]                    stop at the next step, entering function calls
  over [id]                    stop at the next step at the same depth
  return [id]                  stop once the current function call returns
  quit                         disconnect; paused executions are released
`)
}

// parsePoint reads file:line[:condition]. Relative files are made absolute.
func parsePoint(spec string) (debug.Point, error) {
	parts := strings.SplitN(strings.TrimSpace(spec), ":", 3)
	if len(parts) < 2 || parts[0] == "" {
		return debug.Point{}, fmt.Errorf("invalid breakpoint %q, want file:line[:condition]", spec)
	}
	line, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || line <= 0 {
		return debug.Point{}, fmt.Errorf("invalid breakpoint line in %q", spec)
	}

	file := parts[0]
	if abs, err := filepath.Abs(file); err == nil {
		file = abs
	}
	point := debug.Point{File: file, Line: line}
	if len(parts) == 3 {
		point.Condition = strings.TrimSpace(parts[2])
	}
	return point, nil
}
