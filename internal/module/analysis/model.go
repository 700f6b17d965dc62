package analysis

// RoleRecommendation is one suggested role for a candidate.
type RoleRecommendation struct {
	RoleName        string   `json:"roleName"`
	MatchPercentage int      `json:"matchPercentage"`
	Reasoning       string   `json:"reasoning"`
	RequiredSkills  []string `json:"requiredSkills,omitempty"`
	MissingSkills   []string `json:"missingSkills,omitempty"`
}

// Analysis is the validated result of one AI analysis call. Model output is
// parsed and checked at the client boundary so a malformed response becomes a
// per-task failure instead of a surprise downstream.
type Analysis struct {
	// FitScore is the overall candidate score in [0, 100]. For targeted
	// analyses it is the match against the requested role; otherwise it is
	// the best recommendation's match.
	FitScore        int                  `json:"fitScore"`
	Summary         string               `json:"summary,omitempty"`
	Strengths       []string             `json:"strengths,omitempty"`
	Weaknesses      []string             `json:"weaknesses,omitempty"`
	Recommendations []RoleRecommendation `json:"roleRecommendations,omitempty"`
}

// AnalyzeOptions tune a single analysis call.
type AnalyzeOptions struct {
	TargetRole     string
	JobDescription string
}

// Task is one independent unit of work inside a multi-document request.
// Index is the submission position; result ordering must match it.
type Task struct {
	Index    int
	Filename string
	Payload  []byte
}

// TaskErrorKind classifies per-task failures.
type TaskErrorKind string

const (
	TaskErrorExtraction TaskErrorKind = "extraction_failed"
	TaskErrorAnalysis   TaskErrorKind = "analysis_failed"
	TaskErrorTimeout    TaskErrorKind = "timeout"
	TaskErrorCancelled  TaskErrorKind = "cancelled"
	TaskErrorInternal   TaskErrorKind = "internal"
)

// TaskResult is the outcome of one task: either Analysis is set, or ErrorKind
// and Message describe the failure. Failures are data here, never errors that
// unwind past the dispatcher.
type TaskResult struct {
	Index     int           `json:"index"`
	Filename  string        `json:"filename"`
	Success   bool          `json:"success"`
	Analysis  *Analysis     `json:"analysis,omitempty"`
	ErrorKind TaskErrorKind `json:"errorKind,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// BatchOutcome aggregates one batch run. Results are ordered by submission
// index regardless of completion order.
type BatchOutcome struct {
	Results      []TaskResult `json:"results"`
	SuccessCount int          `json:"successCount"`
	FailureCount int          `json:"failureCount"`
	SuccessRate  float64      `json:"successRate"`
}

// RankedCandidate is one entry of a comparison result.
type RankedCandidate struct {
	Rank     int    `json:"rank"`
	Filename string `json:"filename"`
	Score    int    `json:"score"`
	Summary  string `json:"summary,omitempty"`
}

// RankedOutcome is the comparison view of a batch: successful analyses ranked
// by score, plus aggregate statistics and interview recommendations.
type RankedOutcome struct {
	Ranked          []RankedCandidate `json:"ranked"`
	Failed          []TaskResult      `json:"failed,omitempty"`
	HighestScore    int               `json:"highestScore"`
	AverageScore    float64           `json:"averageScore"`
	ScoreRange      string            `json:"scoreRange"`
	Recommendations []string          `json:"recommendations"`
}

// SelectionStatus is the per-candidate screening verdict.
type SelectionStatus string

const (
	SelectionFit    SelectionStatus = "FIT"
	SelectionReject SelectionStatus = "REJECT"
)

// CandidateSelection is one screening decision from the select-candidates
// operation.
type CandidateSelection struct {
	Candidate string          `json:"candidate"`
	Status    SelectionStatus `json:"status"`
	Message   string          `json:"message"`
}
