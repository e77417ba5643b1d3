package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"partner-bot/internal/metrics"
	"partner-bot/internal/repo"
)

// PassPercent is the inclusive pass mark.
const PassPercent = 80

var (
	// ErrAlreadyRegistered is returned when an active partner tries to take the test.
	ErrAlreadyRegistered = errors.New("partner already registered")
	// ErrEmptyName is returned for a blank answer to the name question.
	ErrEmptyName = errors.New("name is empty")
	// ErrInvalidChoice is returned for an option index outside the question.
	ErrInvalidChoice = errors.New("invalid answer option")
	// ErrNotInProgress is returned when an answer arrives for a finished test.
	ErrNotInProgress = errors.New("test is not in progress")
)

// Store is the subset of the ledger store the test engine needs.
type Store interface {
	GetPartner(ctx context.Context, userID int64) (*repo.Partner, error)
	AppendTestResult(ctx context.Context, result repo.TestResult) (*repo.TestResult, error)
	ListTestResults(ctx context.Context, userID int64) ([]repo.TestResult, error)
}

// Result is the outcome of a finished test.
type Result struct {
	Correct int
	Total   int
	Percent float64
	Passed  bool
}

// Progress is the per-partner state of a test in progress.
type Progress struct {
	Name    string
	Answers []int
}

// Outcome is either the next question to ask or the final result.
type Outcome struct {
	Next   *Question
	Number int
	Result *Result
}

// Service drives the qualification test.
type Service struct {
	store     Store
	questions []Question
	scored    []Question
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a test engine over the given question set. The first question
// must collect the partner name.
func New(store Store, questions []Question, logger *slog.Logger, metricRegistry *metrics.Metrics) (*Service, error) {
	if len(questions) < 2 || questions[0].Scored() {
		return nil, fmt.Errorf("quiz needs a name question followed by scored questions")
	}
	scored := questions[1:]
	for i, q := range scored {
		if !q.Scored() || q.Correct < 0 || q.Correct >= len(q.Options) {
			return nil, fmt.Errorf("question %d: invalid options", i+2)
		}
	}
	return &Service{
		store:     store,
		questions: questions,
		scored:    scored,
		logger:    logger.With("component", "quiz"),
		metrics:   metricRegistry,
	}, nil
}

// Total is the number of scored questions.
func (s *Service) Total() int {
	return len(s.scored)
}

// Start returns the first question unless the partner is already active.
func (s *Service) Start(ctx context.Context, partnerID int64) (Question, error) {
	p, err := s.store.GetPartner(ctx, partnerID)
	if err != nil {
		return Question{}, fmt.Errorf("load partner: %w", err)
	}
	if p.IsActive {
		return Question{}, ErrAlreadyRegistered
	}
	return s.questions[0], nil
}

// SubmitName records the answer to the name question and returns the first scored question.
func (s *Service) SubmitName(progress *Progress, name string) (Question, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Question{}, ErrEmptyName
	}
	progress.Name = name
	progress.Answers = progress.Answers[:0]
	return s.scored[0], nil
}

// Current returns the scored question awaiting an answer.
func (s *Service) Current(progress *Progress) (Question, int, error) {
	idx := len(progress.Answers)
	if idx >= len(s.scored) {
		return Question{}, 0, ErrNotInProgress
	}
	return s.scored[idx], idx + 1, nil
}

// SubmitAnswer records one answer. After the last question the attempt is
// scored and persisted whether it passed or not.
func (s *Service) SubmitAnswer(ctx context.Context, partnerID int64, progress *Progress, choice int) (Outcome, error) {
	q, _, err := s.Current(progress)
	if err != nil {
		return Outcome{}, err
	}
	if choice < 0 || choice >= len(q.Options) {
		return Outcome{}, ErrInvalidChoice
	}
	progress.Answers = append(progress.Answers, choice)

	if next := len(progress.Answers); next < len(s.scored) {
		nq := s.scored[next]
		return Outcome{Next: &nq, Number: next + 1}, nil
	}

	res := Score(s.scored, progress.Answers)
	if _, err := s.store.AppendTestResult(ctx, repo.TestResult{
		UserID:         partnerID,
		Score:          res.Correct,
		TotalQuestions: res.Total,
	}); err != nil {
		return Outcome{}, fmt.Errorf("save test result: %w", err)
	}

	if s.metrics != nil {
		s.metrics.QuizOutcomes.WithLabelValues(resultLabel(res)).Inc()
	}
	s.logger.Info("qualification test finished", "partner_id", partnerID, "score", res.Correct, "total", res.Total, "passed", res.Passed)
	return Outcome{Result: &res}, nil
}

// HasPassed reports whether any recorded attempt of the partner passed.
func (s *Service) HasPassed(ctx context.Context, partnerID int64) (bool, error) {
	results, err := s.store.ListTestResults(ctx, partnerID)
	if err != nil {
		return false, fmt.Errorf("load test results: %w", err)
	}
	for _, r := range results {
		if Passed(r.Score, r.TotalQuestions) {
			return true, nil
		}
	}
	return false, nil
}

// Score counts correct answers against the scored questions.
func Score(questions []Question, answers []int) Result {
	correct := 0
	for i, q := range questions {
		if i < len(answers) && answers[i] == q.Correct {
			correct++
		}
	}
	total := len(questions)
	res := Result{Correct: correct, Total: total, Passed: Passed(correct, total)}
	if total > 0 {
		res.Percent = float64(correct) / float64(total) * 100
	}
	return res
}

// Passed applies the pass mark in integer arithmetic.
func Passed(correct, total int) bool {
	if total <= 0 {
		return false
	}
	return correct*100 >= PassPercent*total
}

func resultLabel(res Result) string {
	if res.Passed {
		return "passed"
	}
	return "failed"
}
