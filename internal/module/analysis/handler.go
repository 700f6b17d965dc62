package analysis

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobpsych/server/internal/module/auth"
	"github.com/jobpsych/server/internal/module/document"
	"github.com/jobpsych/server/internal/module/quota"
	apperrors "github.com/jobpsych/server/internal/shared/errors"
	"github.com/jobpsych/server/internal/shared/response"
	"go.uber.org/zap"
)

// Batch size bounds per endpoint.
const (
	MinBatchFiles   = 2
	MaxBatchFiles   = 10
	MaxCompareFiles = 5
)

// HandlerConfig carries the client-facing URLs attached to quota denials.
type HandlerConfig struct {
	SignupURL  string
	UpgradeURL string
}

// Handler exposes the resume-analysis HTTP surface.
type Handler struct {
	service   *Service
	engine    *quota.Engine
	extractor *document.Extractor
	cfg       HandlerConfig
	logger    *zap.Logger
}

// NewHandler creates the analysis handler.
func NewHandler(service *Service, engine *quota.Engine, extractor *document.Extractor, cfg HandlerConfig, logger *zap.Logger) *Handler {
	return &Handler{
		service:   service,
		engine:    engine,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger,
	}
}

// RegisterRoutes registers the analysis routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/analyze-resume", h.AnalyzeResume)
	r.POST("/batch-analyze", h.BatchAnalyze)
	r.POST("/compare-resumes", h.CompareResumes)
	r.POST("/select-candidates", h.SelectCandidates)
	r.GET("/rate-limit-status", h.RateLimitStatus)
}

// AnalyzeResume handles single-document analysis.
func (h *Handler) AnalyzeResume(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	if err := h.extractor.Validate(fileHeader.Filename, fileHeader.Size); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	identity := auth.IdentityFrom(c)
	decision := h.engine.Decide(c.Request.Context(), identity, 1)
	if !decision.Admitted {
		h.deny(c, decision)
		return
	}

	data, err := readUpload(fileHeader)
	if err != nil {
		response.FromError(c, apperrors.Internal("could not read upload", err))
		return
	}

	analysis, err := h.service.AnalyzeOne(c.Request.Context(), fileHeader.Filename, data, analyzeOptions(c))
	if err != nil {
		h.logger.Warn("single analysis failed",
			zap.String("filename", fileHeader.Filename),
			zap.Error(err),
		)
		response.FromError(c, apperrors.NewAppError("ANALYSIS_FAILED", err.Error(), http.StatusBadGateway, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"filename": fileHeader.Filename,
		"analysis": analysis,
		"quota":    quotaView(decision),
	})
}

// BatchAnalyze handles multi-document analysis. The whole batch must fit the
// remaining quota; per-item failures are reported per item under a 200
// envelope.
func (h *Handler) BatchAnalyze(c *gin.Context) {
	tasks, decision, ok := h.admitBatch(c, MaxBatchFiles)
	if !ok {
		return
	}

	outcome := h.service.AnalyzeBatch(c.Request.Context(), tasks, analyzeOptions(c))
	c.JSON(http.StatusOK, gin.H{
		"batch": outcome,
		"quota": quotaView(decision),
	})
}

// CompareResumes handles multi-candidate comparison.
func (h *Handler) CompareResumes(c *gin.Context) {
	tasks, decision, ok := h.admitBatch(c, MaxCompareFiles)
	if !ok {
		return
	}

	ranked := h.service.Compare(c.Request.Context(), tasks, analyzeOptions(c))
	c.JSON(http.StatusOK, gin.H{
		"comparison": ranked,
		"quota":      quotaView(decision),
	})
}

// SelectCandidates handles FIT/REJECT screening against a job title and
// required keywords.
func (h *Handler) SelectCandidates(c *gin.Context) {
	jobTitle := c.PostForm("job_title")
	if jobTitle == "" {
		response.BadRequest(c, "job_title is required")
		return
	}
	keywords := c.PostFormArray("keywords")

	tasks, decision, ok := h.admitBatch(c, MaxBatchFiles)
	if !ok {
		return
	}

	selections := h.service.SelectCandidates(c.Request.Context(), tasks, jobTitle, keywords)
	c.JSON(http.StatusOK, gin.H{
		"results": selections,
		"quota":   quotaView(decision),
	})
}

// RateLimitStatus returns the caller's quota snapshot without consuming any.
func (h *Handler) RateLimitStatus(c *gin.Context) {
	identity := auth.IdentityFrom(c)
	decision := h.engine.Status(c.Request.Context(), identity)
	c.JSON(http.StatusOK, quotaView(decision))
}

// admitBatch validates the uploaded file set, asks the engine to admit the
// whole batch, and reads the payloads. Validation happens before any quota is
// consumed.
func (h *Handler) admitBatch(c *gin.Context, maxFiles int) ([]Task, quota.Decision, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		response.BadRequest(c, "multipart form with files is required")
		return nil, quota.Decision{}, false
	}
	files := form.File["files"]

	if len(files) < MinBatchFiles || len(files) > maxFiles {
		response.ValidationError(c, fmt.Sprintf("expected between %d and %d files, got %d", MinBatchFiles, maxFiles, len(files)))
		return nil, quota.Decision{}, false
	}
	for _, f := range files {
		if err := h.extractor.Validate(f.Filename, f.Size); err != nil {
			response.ValidationError(c, err.Error())
			return nil, quota.Decision{}, false
		}
	}

	identity := auth.IdentityFrom(c)
	decision := h.engine.Decide(c.Request.Context(), identity, len(files))
	if !decision.Admitted {
		h.deny(c, decision)
		return nil, quota.Decision{}, false
	}

	tasks := make([]Task, len(files))
	for i, f := range files {
		data, err := readUpload(f)
		if err != nil {
			// The slot is already consumed; report the file as a task that
			// will fail extraction rather than dropping the whole batch.
			data = nil
		}
		tasks[i] = Task{Index: i, Filename: f.Filename, Payload: data}
	}

	return tasks, decision, true
}

// deny writes the structured quota-denial response: machine-readable reason,
// human message, and a call-to-action URL.
func (h *Handler) deny(c *gin.Context, d quota.Decision) {
	body := gin.H{
		"error":     "Rate limit exceeded",
		"reason":    d.Reason,
		"remaining": d.Remaining,
		"requested": d.Requested,
		"limit":     d.Limit,
	}

	switch d.Reason {
	case quota.ReasonRequiresPayment:
		body["message"] = fmt.Sprintf(
			"You have used %d of %d uploads on the free plan. Upgrade to continue.", d.Used, d.Limit)
		body["upgrade_url"] = h.cfg.UpgradeURL
		c.JSON(http.StatusPaymentRequired, body)
	default:
		retry := time.Until(d.ResetAt)
		body["message"] = fmt.Sprintf(
			"You have exceeded the daily limit of %d resume uploads. Sign up for a higher limit.", d.Limit)
		body["signup_url"] = h.cfg.SignupURL
		body["reset_in"] = fmt.Sprintf("%dh %dm", int(retry.Hours()), int(retry.Minutes())%60)
		body["retry_after"] = int(retry.Seconds())
		c.JSON(http.StatusTooManyRequests, body)
	}
}

// quotaView shapes a decision for response payloads.
func quotaView(d quota.Decision) gin.H {
	view := gin.H{
		"limit_kind": d.LimitKind,
		"unlimited":  d.Unlimited,
	}
	if d.Unlimited {
		view["remaining"] = "unlimited"
		return view
	}
	view["remaining"] = d.Remaining
	view["limit"] = d.Limit
	view["used"] = d.Used
	if !d.ResetAt.IsZero() {
		view["reset_time"] = d.ResetAt.UTC().Format(time.RFC3339)
	}
	return view
}

func analyzeOptions(c *gin.Context) AnalyzeOptions {
	return AnalyzeOptions{
		TargetRole:     c.PostForm("target_role"),
		JobDescription: c.PostForm("job_description"),
	}
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
