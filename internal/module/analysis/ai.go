package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jobpsych/server/internal/shared/metrics"
	"go.uber.org/zap"
)

// Analyzer is the opaque AI analysis boundary: document text plus parameters
// in, a validated Analysis or an error out.
type Analyzer interface {
	Analyze(ctx context.Context, text string, opts AnalyzeOptions) (*Analysis, error)
}

// AIClientConfig configures the HTTP analyzer.
type AIClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// AIClient calls a generative-AI completion endpoint and validates its output
// into an Analysis. The model is prompted to answer with a single JSON
// object; anything that does not parse or fails range checks is an error the
// dispatcher records as a per-task failure.
type AIClient struct {
	cfg        AIClientConfig
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewAIClient creates an analyzer backed by an HTTP completion endpoint.
// metrics may be nil.
func NewAIClient(cfg AIClientConfig, httpClient *http.Client, logger *zap.Logger, m *metrics.Metrics) *AIClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &AIClient{cfg: cfg, httpClient: httpClient, logger: logger, metrics: m}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Analyze implements Analyzer.
func (c *AIClient) Analyze(ctx context.Context, text string, opts AnalyzeOptions) (*Analysis, error) {
	start := time.Now()

	raw, err := c.generate(ctx, buildPrompt(text, opts))

	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.AIRequestsTotal.WithLabelValues(c.cfg.Model, status).Inc()
		c.metrics.AIRequestDuration.WithLabelValues(c.cfg.Model).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		c.logger.Warn("malformed model output",
			zap.String("model", c.cfg.Model),
			zap.Error(err),
		)
		return nil, err
	}

	return analysis, nil
}

func (c *AIClient) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("model call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model call: unexpected status %d", resp.StatusCode)
	}

	var body generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	if len(body.Candidates) == 0 || len(body.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("model returned no candidates")
	}

	return body.Candidates[0].Content.Parts[0].Text, nil
}

func buildPrompt(text string, opts AnalyzeOptions) string {
	var b strings.Builder

	b.WriteString("ROLE: Senior AI Hiring Manager.\n\n")
	if opts.TargetRole != "" {
		fmt.Fprintf(&b, "TASK: Analyze this candidate's fit for the role %q.\n", opts.TargetRole)
	} else {
		b.WriteString("TASK: Analyze this resume and recommend the top 3 most suitable job roles.\n")
	}
	if opts.JobDescription != "" {
		fmt.Fprintf(&b, "\nJOB DESCRIPTION:\n%s\n", opts.JobDescription)
	}
	fmt.Fprintf(&b, "\nRESUME:\n%s\n", text)
	b.WriteString(`
Return ONLY a valid JSON object, no additional text:
{
  "fitScore": 85,
  "summary": "One-paragraph assessment",
  "strengths": ["Strength1", "Strength2"],
  "weaknesses": ["Weakness1"],
  "roleRecommendations": [
    {
      "roleName": "Role Title",
      "matchPercentage": 85,
      "reasoning": "Fit explanation",
      "requiredSkills": ["Skill1"],
      "missingSkills": ["Skill2"]
    }
  ]
}
`)
	return b.String()
}

// parseAnalysis validates model output into an Analysis. Models often wrap
// JSON in markdown fences; those are stripped before decoding.
func parseAnalysis(raw string) (*Analysis, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var a Analysis
	if err := json.Unmarshal([]byte(cleaned), &a); err != nil {
		return nil, fmt.Errorf("model output is not valid JSON: %w", err)
	}

	if a.FitScore == 0 && len(a.Recommendations) > 0 {
		// Fall back to the best recommendation's match.
		for _, rec := range a.Recommendations {
			if rec.MatchPercentage > a.FitScore {
				a.FitScore = rec.MatchPercentage
			}
		}
	}
	if a.FitScore < 0 || a.FitScore > 100 {
		return nil, fmt.Errorf("fitScore %d out of range", a.FitScore)
	}
	for _, rec := range a.Recommendations {
		if rec.RoleName == "" {
			return nil, fmt.Errorf("recommendation missing roleName")
		}
		if rec.MatchPercentage < 0 || rec.MatchPercentage > 100 {
			return nil, fmt.Errorf("matchPercentage %d out of range for %q", rec.MatchPercentage, rec.RoleName)
		}
	}

	return &a, nil
}
