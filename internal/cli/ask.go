package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/askdb/askdb/internal/pipeline"
)

type askOptions struct {
	ShowSQL  bool
	JSON     bool
	File     string
	Parallel int
}

type askOutput struct {
	Question string `json:"question"`
	pipeline.Answer
}

func newAskCommand(rt *runtime) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Answer a question, or every line of a file",
		Example: `  askdb ask "How many albums does AC/DC have?"
  askdb ask --show-sql "Which genre has the most tracks?"
  askdb ask --file questions.txt --parallel 4 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			questions, err := collectQuestions(args, opts.File, cmd.InOrStdin())
			if err != nil {
				return err
			}
			session, release, err := rt.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = release() }()

			answers, err := answerAll(cmd.Context(), session, questions, opts.Parallel)
			if err != nil {
				return err
			}
			return printAnswers(cmd.OutOrStdout(), questions, answers, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.ShowSQL, "show-sql", false, "Print the executed SQL before the answer")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print answers as JSON, one object per line")
	cmd.Flags().StringVar(&opts.File, "file", "", "Read questions from a file, one per line (- for stdin)")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 1, "Questions answered concurrently with --file")
	return cmd
}

// collectQuestions joins args into one question, or reads one question per
// non-blank line of file. Lines starting with # are skipped.
func collectQuestions(args []string, file string, stdin io.Reader) ([]string, error) {
	if file == "" {
		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			return nil, fmt.Errorf("a question or --file is required")
		}
		return []string{question}, nil
	}
	if len(args) > 0 {
		return nil, fmt.Errorf("pass either a question or --file, not both")
	}

	var reader io.Reader = stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open questions file: %w", err)
		}
		defer f.Close()
		reader = f
	}
	var questions []string
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("no questions in %s", file)
	}
	return questions, nil
}

// answerAll keeps answers in question order regardless of parallelism.
func answerAll(ctx context.Context, session Session, questions []string, parallel int) ([]pipeline.Answer, error) {
	if parallel < 1 {
		parallel = 1
	}
	answers := make([]pipeline.Answer, len(questions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, question := range questions {
		g.Go(func() error {
			answers[i] = session.Answer(gctx, question)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return answers, nil
}

func printAnswers(w io.Writer, questions []string, answers []pipeline.Answer, opts *askOptions) error {
	if opts.JSON {
		enc := json.NewEncoder(w)
		for i, answer := range answers {
			if err := enc.Encode(askOutput{Question: questions[i], Answer: answer}); err != nil {
				return err
			}
		}
		return nil
	}
	for i, answer := range answers {
		if len(questions) > 1 {
			if i > 0 {
				_, _ = fmt.Fprintln(w)
			}
			_, _ = fmt.Fprintf(w, "Q: %s\n", questions[i])
		}
		writeAnswer(w, answer, opts.ShowSQL)
	}
	return nil
}

func writeAnswer(w io.Writer, answer pipeline.Answer, showSQL bool) {
	if showSQL && answer.SQL != "" {
		_, _ = fmt.Fprintf(w, "SQL: %s\n", answer.SQL)
	}
	_, _ = fmt.Fprintln(w, answer.Text)
}
