package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const replPrompt = "askdb> "

type lineReader interface {
	Readline() (string, error)
	Close() error
}

type replState struct {
	session Session
	out     io.Writer
	errOut  io.Writer
	showSQL bool
}

func newREPLCommand(rt *runtime) *cobra.Command {
	var showSQL bool
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Ask questions interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rt.config()
			if err != nil {
				return err
			}
			session, release, err := rt.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = release() }()

			historyFile := ""
			if cfg.Dataset.CacheDir != "" && os.MkdirAll(cfg.Dataset.CacheDir, 0o755) == nil {
				historyFile = filepath.Join(cfg.Dataset.CacheDir, "repl_history")
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          replPrompt,
				HistoryFile:     historyFile,
				AutoComplete:    replCompleter(session),
				InterruptPrompt: "^C",
				EOFPrompt:       "quit",
				Stdout:          cmd.OutOrStdout(),
				Stderr:          cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("initialize repl: %w", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "askdb: ask a question about the database. Type .help for commands, quit to exit.")
			state := &replState{session: session, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), showSQL: showSQL}
			return state.run(cmd.Context(), rl)
		},
	}
	cmd.Flags().BoolVar(&showSQL, "show-sql", false, "Print the executed SQL before each answer")
	return cmd
}

func (s *replState) run(ctx context.Context, in lineReader) error {
	defer func() { _ = in.Close() }()
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "quit", "exit", "q":
			return nil
		}
		if strings.HasPrefix(line, ".") {
			s.dotCommand(line)
			continue
		}

		writeAnswer(s.out, s.session.Answer(ctx, line), s.showSQL)
		_, _ = fmt.Fprintln(s.out)
	}
}

func (s *replState) dotCommand(line string) {
	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case ".help":
		_, _ = fmt.Fprint(s.out, `Commands:
  .help          Show this help message
  .schema        Print the schema description used for SQL synthesis
  .tables        List tables
  .sql on|off    Show or hide the executed SQL
  quit           Leave (also exit, q)
`)
	case ".schema":
		_, _ = fmt.Fprintln(s.out, s.session.SchemaText())
	case ".tables":
		renderTables(s.out, s.session.Schema())
	case ".sql":
		if len(parts) != 2 {
			_, _ = fmt.Fprintln(s.errOut, "usage: .sql on|off")
			return
		}
		switch strings.ToLower(parts[1]) {
		case "on":
			s.showSQL = true
		case "off":
			s.showSQL = false
		default:
			_, _ = fmt.Fprintln(s.errOut, "usage: .sql on|off")
			return
		}
		_, _ = fmt.Fprintf(s.out, "show sql: %s\n", strings.ToLower(parts[1]))
	default:
		_, _ = fmt.Fprintf(s.errOut, "unknown command %s (type .help for commands)\n", parts[0])
	}
}

func replCompleter(session Session) *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem(".help"),
		readline.PcItem(".schema"),
		readline.PcItem(".tables"),
		readline.PcItem(".sql", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("quit"),
	}
	if s := session.Schema(); s != nil {
		for _, name := range s.TableNames() {
			items = append(items, readline.PcItem(name))
		}
	}
	return readline.NewPrefixCompleter(items...)
}
