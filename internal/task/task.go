package task

import (
	stdErrors "errors"

	xerrors "SpriteForge/internal/errors"
	"SpriteForge/internal/generation"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Result 保存一次成功生成的产物地址。
type Result struct {
	GenerationID string `json:"generationId"`
	AtlasURL     string `json:"atlasUrl"`
	MetaURL      string `json:"metaUrl"`
	Cached       bool   `json:"cached"`
}

// Job 描述了排队执行的精灵图生成任务。
type Job struct {
	ID         string                   `json:"id"`
	UserID     string                   `json:"userId"`
	Request    generation.SpriteRequest `json:"request"`
	Status     Status                   `json:"status"`
	Attempts   int                      `json:"attempts"`
	MaxRetries int                      `json:"maxRetries"`
	LastError  string                   `json:"lastError,omitempty"`
	ErrorCode  string                   `json:"errorCode,omitempty"`
	Result     *Result                  `json:"result,omitempty"`
	CreatedAt  int64                    `json:"createdAt"`
	UpdatedAt  int64                    `json:"updatedAt"`
}

// Active 判断任务是否仍占用用户的排队名额。
func (j *Job) Active() bool {
	return j != nil && (j.Status == StatusPending || j.Status == StatusRunning)
}

const (
	CodeJobCompleted  xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
)

var (
	// ErrJobNotFound 表示指定的任务不存在，或不属于调用方。
	ErrJobNotFound = xerrors.New(xerrors.CodeNotFound, "job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(xerrors.CodeConflict, "job conflict")
	// ErrJobCompleted 表示任务已经成功完成。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示任务的尝试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

func init() {
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:  "job already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:  "job retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:  "job execution failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// IsJobError 判断错误是否为指定的任务错误。
func IsJobError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	for _, known := range []*xerrors.Error{ErrJobNotFound, ErrJobConflict, ErrJobCompleted, ErrJobExhausted} {
		if known.Code() == target && stdErrors.Is(err, known) {
			return true
		}
	}
	return false
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneJob(job *Job) *Job {
	clone := *job
	if job.Result != nil {
		result := *job.Result
		clone.Result = &result
	}
	clone.Request.Motions = append([]string(nil), job.Request.Motions...)
	clone.Request.Directions = append([]string(nil), job.Request.Directions...)
	return &clone
}
