package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"codequiz/internal/builder"
	"codequiz/internal/client"
	"codequiz/internal/domain"
	"codequiz/internal/engine"
	"codequiz/internal/review"
	"codequiz/internal/timer"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type attemptOptions struct {
	server    string
	sessionID string
	category  string
	quizType  string
	count     int
	minutes   int
	title     string
	questions []string
	timeout   time.Duration
	clock     timer.Clock
	prompt    bool
}

// NewAttemptCmd runs an interactive quiz attempt against a running server.
func NewAttemptCmd() *cobra.Command {
	opts := attemptOptions{}
	cmd := &cobra.Command{
		Use:   "attempt",
		Short: "Build a quiz and take it in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.prompt = term.IsTerminal(int(os.Stdin.Fd()))
			return runAttempt(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "http://localhost:8080", "quiz server base URL")
	f.StringVar(&opts.sessionID, "session", "", "resume an existing session instead of building one")
	f.StringVar(&opts.category, "category", "dsa", "question category")
	f.StringVar(&opts.quizType, "type", string(domain.QuizTypePractice), "quiz type: practice, timed or mock")
	f.IntVar(&opts.count, "count", 5, "number of questions")
	f.IntVar(&opts.minutes, "minutes", 30, "time limit in minutes for timed quizzes")
	f.StringVar(&opts.title, "title", "", "session title")
	f.StringSliceVar(&opts.questions, "questions", nil, "question ids to use instead of a random pick")
	f.DurationVar(&opts.timeout, "request-timeout", 15*time.Second, "timeout of each server call")
	return cmd
}

const attemptHelp = `commands:
  n, next      go to the next question
  p, prev      go to the previous question
  e, edit      replace the draft; end input with a line containing only "."
  s, submit    submit the draft and advance
  f, finish    finish the session now
  r, retry     retry a failed finish
  l, reload    reload after a failed load
  q, quit      leave without finishing
`

func runAttempt(ctx context.Context, in io.Reader, out io.Writer, opts attemptOptions) error {
	out = &syncWriter{w: out}
	c := client.New(opts.server)

	sessionID := opts.sessionID
	if sessionID == "" {
		session, err := buildSession(ctx, c, opts)
		if err != nil {
			return err
		}
		sessionID = session.ID
		fmt.Fprintf(out, "created %q (%s, %d questions)\n", session.Title, session.QuizType, len(session.Questions))
	}

	attempt := engine.NewAttempt(sessionID, c, engine.Options{
		Clock:          opts.clock,
		RequestTimeout: opts.timeout,
	})
	updates, unsubscribe := attempt.Subscribe()
	defer unsubscribe()

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		<-attempt.Done()
	}()
	go func() { _ = attempt.Run(runCtx) }()

	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		var last engine.Snapshot
		first := true
		for snap := range updates {
			renderSnapshot(out, last, snap, first)
			last, first = snap, false
		}
	}()

	fmt.Fprint(out, attemptHelp)
	lines := readLines(in)
	quit, err := commandLoop(ctx, attempt, lines, out, opts.prompt)
	if err != nil {
		return err
	}
	if quit {
		fmt.Fprintf(out, "left session %s unfinished\n", sessionID)
		return nil
	}

	<-attempt.Done()
	<-rendered
	summary, err := review.NewProjector(c, zerolog.Nop()).Project(ctx, sessionID)
	if err != nil {
		return err
	}
	renderSummary(out, summary)
	return nil
}

func buildSession(ctx context.Context, c *client.Client, opts attemptOptions) (domain.Session, error) {
	w := builder.New(c, c)
	if err := w.Configure(builder.Config{
		Category:         opts.category,
		QuizType:         domain.QuizType(opts.quizType),
		NumQuestions:     opts.count,
		TimeLimitMinutes: opts.minutes,
		Title:            opts.title,
	}); err != nil {
		return domain.Session{}, err
	}
	if err := w.LoadCandidates(ctx); err != nil {
		return domain.Session{}, err
	}
	if len(opts.questions) > 0 {
		for _, id := range opts.questions {
			if _, err := w.Toggle(id); err != nil {
				return domain.Session{}, fmt.Errorf("select %s: %w", id, err)
			}
		}
	} else if err := w.PickRandom(); err != nil {
		return domain.Session{}, err
	}
	if err := w.Proceed(); err != nil {
		return domain.Session{}, err
	}
	return w.Start(ctx)
}

// commandLoop feeds user commands to the attempt until it completes, input
// ends or the user quits. It reports whether the user quit.
func commandLoop(ctx context.Context, a *engine.Attempt, lines <-chan string, out io.Writer, prompt bool) (bool, error) {
	updates, unsubscribe := a.Subscribe()
	defer unsubscribe()
	for {
		waitIdle(ctx, a, updates)
		if prompt {
			fmt.Fprint(out, "> ")
		}
		select {
		case <-a.Done():
			return false, nil
		default:
		}
		var line string
		select {
		case <-a.Done():
			return false, nil
		case <-ctx.Done():
			return true, ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return true, nil
			}
			line = strings.TrimSpace(l)
		}

		var err error
		switch line {
		case "":
			continue
		case "n", "next":
			err = a.NavigateNext(ctx)
		case "p", "prev":
			err = a.NavigatePrev(ctx)
		case "e", "edit":
			text, ok := readDraft(lines)
			if !ok {
				return true, nil
			}
			err = a.EditDraft(ctx, text)
		case "s", "submit":
			err = a.SubmitAndAdvance(ctx)
		case "f", "finish":
			err = a.ForceFinish(ctx)
		case "r", "retry":
			err = a.RetryFinish(ctx)
		case "l", "reload":
			err = a.Reload(ctx)
		case "q", "quit":
			return true, nil
		case "h", "help":
			fmt.Fprint(out, attemptHelp)
		default:
			fmt.Fprintf(out, "unknown command %q\n", line)
		}
		if err != nil {
			if errors.Is(err, engine.ErrClosed) {
				return false, nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// waitIdle blocks until the attempt has loaded and has no request in flight.
// updates only wakes it up; the current snapshot decides.
func waitIdle(ctx context.Context, a *engine.Attempt, updates <-chan engine.Snapshot) {
	for {
		snap := a.Snapshot()
		if !snap.Pending && snap.Status != engine.StatusLoading {
			return
		}
		select {
		case <-a.Done():
			return
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
		}
	}
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func readDraft(lines <-chan string) (string, bool) {
	var b strings.Builder
	for l := range lines {
		if l == "." {
			return b.String(), true
		}
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return "", false
}

func renderSnapshot(out io.Writer, prev, snap engine.Snapshot, first bool) {
	moved := first || prev.Status != snap.Status || prev.Index != snap.Index || len(prev.Answered) != len(snap.Answered)
	if moved {
		switch snap.Status {
		case engine.StatusInProgress:
			if snap.Question != nil {
				fmt.Fprintf(out, "\n[%d/%d] %s (%s)\n%s\n--- draft ---\n%s", snap.Index+1, snap.Total,
					snap.Question.Title, snap.Question.Difficulty, snap.Question.Description, snap.Draft)
				if snap.Timed {
					fmt.Fprintf(out, "time left %s\n", timer.Format(snap.Remaining))
				}
			}
		case engine.StatusFinishing:
			fmt.Fprintf(out, "finishing (%s)...\n", snap.FinishReason)
		case engine.StatusCompleted:
			fmt.Fprintln(out, "session completed")
		case engine.StatusErrored:
			fmt.Fprintf(out, "error (%s): %s\n", snap.ErrorKind, snap.Error)
			if snap.Retryable {
				fmt.Fprintln(out, "use retry or reload to try again")
			}
		}
		return
	}
	if snap.Timed && snap.Remaining != prev.Remaining && (snap.Remaining%60 == 0 || (snap.Warning && snap.Remaining%10 == 0)) {
		fmt.Fprintf(out, "time left %s\n", timer.Format(snap.Remaining))
	}
	if snap.Error != "" && snap.Error != prev.Error && snap.Status == engine.StatusInProgress {
		fmt.Fprintf(out, "error (%s): %s\n", snap.ErrorKind, snap.Error)
	}
}

func renderSummary(out io.Writer, s review.Summary) {
	fmt.Fprintf(out, "\n%s\n", s.Title)
	fmt.Fprintf(out, "answered %d/%d, correct %d, score %d, accuracy %.0f%%, time %s\n",
		s.Answered, s.TotalQuestions, s.CorrectCount, s.TotalScore, s.Accuracy, timer.Format(s.TimeSpentSeconds))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tQUESTION\tSTATUS\tSCORE")
	for _, r := range s.Rows {
		status := "skipped"
		if r.Submitted {
			status = "wrong"
			if r.Correct {
				status = "correct"
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", r.Position, r.Title, status, r.Score)
	}
	_ = tw.Flush()
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
