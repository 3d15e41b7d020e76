// ABOUTME: Interviewer interface and built-in implementations for human-in-the-loop wait.human gates.
// ABOUTME: Provides AutoApprove, Queue, Recording, and Console interviewers plus the Question/Answer contract.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// QuestionKind names the shape of a human-gate prompt.
type QuestionKind string

const (
	QuestionYesNo          QuestionKind = "yes_no"
	QuestionConfirmation   QuestionKind = "confirmation"
	QuestionMultipleChoice QuestionKind = "multiple_choice"
	QuestionFreeform       QuestionKind = "freeform"
)

// sentinel Answer.Value constants for timeout/skip resolution, never typed by a human.
const (
	AnswerTimeout = "timeout"
	AnswerSkipped = "skipped"
)

// Question is a structured prompt posed to a human via an Interviewer.
type Question struct {
	ID              string
	Kind            QuestionKind
	Text            string
	DetailsMarkdown string // long-form supporting context rendered below Text
	Options         []string
	DefaultAnswer   string // used on timeout when set
	TimeoutSeconds  int    // 0 means no timeout
}

// Answer is what an Interviewer returns for a Question.
type Answer struct {
	Value          string
	TimedOut       bool
	Skipped        bool
	ResponseTimeMs int64
}

// Interviewer is the abstraction for human-in-the-loop interaction. Any
// frontend (CLI, web, queue-driven test harness) implements this interface.
type Interviewer interface {
	Ask(ctx context.Context, q Question) (Answer, error)
}

// nodeContextKey attaches the originating node ID to an Ask context so an
// Interviewer can display which stage triggered the gate without changing
// the interface signature.
type nodeContextKey struct{}

// WithNodeID attaches a pipeline node ID to the context.
func WithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, nodeContextKey{}, nodeID)
}

// NodeIDFromContext extracts the pipeline node ID from the context, or "".
func NodeIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(nodeContextKey{}).(string); ok {
		return v
	}
	return ""
}

// --- AutoApproveInterviewer ---

// AutoApproveInterviewer always answers with a configured value, the
// question's DefaultAnswer, or its first option, in that order. Intended for
// unattended pipelines and tests.
type AutoApproveInterviewer struct {
	answer string
}

// NewAutoApproveInterviewer creates an AutoApproveInterviewer with a fixed answer.
func NewAutoApproveInterviewer(answer string) *AutoApproveInterviewer {
	return &AutoApproveInterviewer{answer: answer}
}

// Ask returns the configured answer, falling back to the question's default
// or first option.
func (a *AutoApproveInterviewer) Ask(ctx context.Context, q Question) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	if a.answer != "" {
		return Answer{Value: a.answer}, nil
	}
	if q.DefaultAnswer != "" {
		return Answer{Value: q.DefaultAnswer}, nil
	}
	if len(q.Options) > 0 {
		return Answer{Value: q.Options[0]}, nil
	}
	return Answer{Value: ""}, nil
}

// --- QueueInterviewer ---

// QueueInterviewer reads answers from a pre-filled queue (FIFO order). Used
// for deterministic testing and scripted re-review flows.
type QueueInterviewer struct {
	answers []string
	mu      sync.Mutex
}

// NewQueueInterviewer creates a QueueInterviewer pre-loaded with the given answers.
func NewQueueInterviewer(answers ...string) *QueueInterviewer {
	return &QueueInterviewer{answers: append([]string{}, answers...)}
}

// Ask dequeues the next answer. Returns an error when the queue is exhausted.
func (q *QueueInterviewer) Ask(ctx context.Context, question Question) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.answers) == 0 {
		return Answer{}, fmt.Errorf("answer queue exhausted: no answer for question %q", question.Text)
	}
	answer := q.answers[0]
	q.answers = q.answers[1:]
	return Answer{Value: answer}, nil
}

// --- RecordingInterviewer ---

// QAPair records one question/answer interaction for auditing and replay.
type QAPair struct {
	Question Question
	Answer   Answer
}

// RecordingInterviewer wraps another Interviewer and records all Q&A pairs.
type RecordingInterviewer struct {
	inner      Interviewer
	recordings []QAPair
	mu         sync.Mutex
}

// NewRecordingInterviewer wraps inner with recording capability.
func NewRecordingInterviewer(inner Interviewer) *RecordingInterviewer {
	return &RecordingInterviewer{inner: inner, recordings: make([]QAPair, 0)}
}

// Ask delegates to the inner Interviewer and records the exchange.
func (r *RecordingInterviewer) Ask(ctx context.Context, q Question) (Answer, error) {
	answer, err := r.inner.Ask(ctx, q)
	if err != nil {
		return Answer{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordings = append(r.recordings, QAPair{Question: q, Answer: answer})
	return answer, nil
}

// Recordings returns a copy of all recorded Q&A pairs.
func (r *RecordingInterviewer) Recordings() []QAPair {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]QAPair, len(r.recordings))
	copy(out, r.recordings)
	return out
}

// --- ConsoleInterviewer ---

// ConsoleInterviewer reads answers from an io.Reader and writes prompts to an io.Writer.
type ConsoleInterviewer struct {
	reader io.Reader
	writer io.Writer
}

// NewConsoleInterviewer creates a ConsoleInterviewer using os.Stdin and os.Stdout.
func NewConsoleInterviewer() *ConsoleInterviewer {
	return &ConsoleInterviewer{reader: os.Stdin, writer: os.Stdout}
}

// NewConsoleInterviewerWithIO creates a ConsoleInterviewer with configurable reader and writer.
func NewConsoleInterviewerWithIO(r io.Reader, w io.Writer) *ConsoleInterviewer {
	return &ConsoleInterviewer{reader: r, writer: w}
}

// Ask prints the question (and details, if any) and options, then reads a
// line from the reader. A timeout configured on the question is honored via
// ctx; on expiry the default answer is returned with TimedOut set.
func (c *ConsoleInterviewer) Ask(ctx context.Context, q Question) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}

	askCtx := ctx
	if q.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		askCtx, cancel = context.WithTimeout(ctx, time.Duration(q.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	if nodeID := NodeIDFromContext(ctx); nodeID != "" {
		fmt.Fprintf(c.writer, "[Node: %s]\n", nodeID)
	}
	fmt.Fprintf(c.writer, "[?] %s\n", q.Text)
	if q.DetailsMarkdown != "" {
		fmt.Fprintln(c.writer, q.DetailsMarkdown)
	}
	if len(q.Options) > 0 {
		for _, opt := range q.Options {
			fmt.Fprintf(c.writer, "  - %s\n", opt)
		}
		fmt.Fprint(c.writer, "Select: ")
	} else {
		fmt.Fprint(c.writer, "> ")
	}

	type readResult struct {
		line string
		err  error
	}
	ch := make(chan readResult, 1)
	start := time.Now()
	go func() {
		scanner := bufio.NewScanner(c.reader)
		if scanner.Scan() {
			ch <- readResult{line: strings.TrimSpace(scanner.Text())}
			return
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		ch <- readResult{err: err}
	}()

	select {
	case <-askCtx.Done():
		elapsed := time.Since(start).Milliseconds()
		if ctx.Err() != nil {
			return Answer{}, ctx.Err()
		}
		if q.DefaultAnswer != "" {
			return Answer{Value: q.DefaultAnswer, TimedOut: true, ResponseTimeMs: elapsed}, nil
		}
		return Answer{Value: AnswerTimeout, TimedOut: true, ResponseTimeMs: elapsed}, nil
	case result := <-ch:
		elapsed := time.Since(start).Milliseconds()
		if result.err != nil {
			return Answer{}, fmt.Errorf("reading input: %w", result.err)
		}
		if len(q.Options) > 0 {
			for _, opt := range q.Options {
				if strings.EqualFold(result.line, opt) {
					return Answer{Value: opt, ResponseTimeMs: elapsed}, nil
				}
			}
			return Answer{}, fmt.Errorf("invalid option %q: must be one of %v", result.line, q.Options)
		}
		return Answer{Value: result.line, ResponseTimeMs: elapsed}, nil
	}
}
