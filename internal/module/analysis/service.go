package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/jobpsych/server/internal/module/document"
	"go.uber.org/zap"
)

// Service runs resume analysis operations: extraction, the AI call, dispatch
// across a batch, and aggregation.
type Service struct {
	extractor  *document.Extractor
	analyzer   Analyzer
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewService creates the analysis service.
func NewService(extractor *document.Extractor, analyzer Analyzer, dispatcher *Dispatcher, logger *zap.Logger) *Service {
	return &Service{
		extractor:  extractor,
		analyzer:   analyzer,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// AnalyzeOne runs a single-document analysis.
func (s *Service) AnalyzeOne(ctx context.Context, filename string, data []byte, opts AnalyzeOptions) (*Analysis, error) {
	text, err := s.extractor.Extract(ctx, filename, data)
	if err != nil {
		return nil, err
	}
	return s.analyzer.Analyze(ctx, text, opts)
}

// AnalyzeBatch runs every document independently and returns the summary
// outcome. Per-item failures are reported per item; the batch as a whole
// succeeds even when every item fails.
func (s *Service) AnalyzeBatch(ctx context.Context, tasks []Task, opts AnalyzeOptions) BatchOutcome {
	return s.dispatcher.Run(ctx, tasks, s.worker(opts))
}

// Compare analyzes every document and ranks the successful ones.
func (s *Service) Compare(ctx context.Context, tasks []Task, opts AnalyzeOptions) RankedOutcome {
	return Rank(s.dispatcher.Run(ctx, tasks, s.worker(opts)))
}

// SelectCandidates screens each resume against a job title and required
// keywords, returning a FIT or REJECT verdict per candidate. A document that
// cannot be processed is a REJECT with the failure message, never a batch
// error.
func (s *Service) SelectCandidates(ctx context.Context, tasks []Task, jobTitle string, keywords []string) []CandidateSelection {
	opts := AnalyzeOptions{
		TargetRole:     jobTitle,
		JobDescription: fmt.Sprintf("Required skills: %s", strings.Join(keywords, ", ")),
	}
	outcome := s.dispatcher.Run(ctx, tasks, s.worker(opts))

	selections := make([]CandidateSelection, len(outcome.Results))
	for i, r := range outcome.Results {
		if !r.Success {
			selections[i] = CandidateSelection{
				Candidate: r.Filename,
				Status:    SelectionReject,
				Message:   fmt.Sprintf("Could not process file: %s", truncate(r.Message, 80)),
			}
			continue
		}
		selections[i] = selectVerdict(r.Filename, r.Analysis)
	}
	return selections
}

// FitThreshold is the minimum fit score for a FIT screening verdict.
const FitThreshold = 60

func selectVerdict(filename string, a *Analysis) CandidateSelection {
	if a.FitScore >= FitThreshold {
		return CandidateSelection{
			Candidate: filename,
			Status:    SelectionFit,
			Message:   fmt.Sprintf("Fit score %d meets the screening bar.", a.FitScore),
		}
	}
	return CandidateSelection{
		Candidate: filename,
		Status:    SelectionReject,
		Message:   fmt.Sprintf("Fit score %d is below the screening bar of %d.", a.FitScore, FitThreshold),
	}
}

// worker builds the per-task function the dispatcher runs: extract, then
// analyze, under the task's own context.
func (s *Service) worker(opts AnalyzeOptions) Worker {
	return func(ctx context.Context, task Task) (*Analysis, error) {
		text, err := s.extractor.Extract(ctx, task.Filename, task.Payload)
		if err != nil {
			return nil, err
		}
		return s.analyzer.Analyze(ctx, text, opts)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
