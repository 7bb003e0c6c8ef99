package fault

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound 故障单或记录不存在
	ErrNotFound = errors.New("not found")

	// ErrValidation 请求内容为空或非法
	ErrValidation = errors.New("validation failed")

	// ErrConflict 故障单号已存在
	ErrConflict = errors.New("ticket already exists")

	// ErrUpstreamUnavailable 向量/生成网关不可达或返回错误
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrIndexInconsistency 记录库与向量索引不一致
	ErrIndexInconsistency = errors.New("index inconsistency")

	// ErrInitialization AI 后端初始化失败
	ErrInitialization = errors.New("initialization failed")

	// ErrNoMatch 知识库中没有可用的相似记录
	ErrNoMatch = fmt.Errorf("no matching records in knowledge base: %w", ErrNotFound)
)

// UpstreamError 远程网关调用失败。超时与限流可由调用方重试。
type UpstreamError struct {
	Service    string // embedding | generation
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s gateway error (status %d): %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s gateway error: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstreamUnavailable, e.Err}
}

// Timeout 是否由超时引起
func (e *UpstreamError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Retryable 超时、限流、服务端错误和网络错误可重试
func (e *UpstreamError) Retryable() bool {
	if e.StatusCode == 0 || e.StatusCode == 429 {
		return true
	}
	return e.StatusCode >= 500
}

// PartialSyncError 记录库已提交但向量索引未完成同步。
// 对应的 outbox 事件保持待处理，由 Reconciler 补偿。
type PartialSyncError struct {
	Op       string // create | update | delete
	RecordID int64
	TicketNo string
	Err      error
}

func (e *PartialSyncError) Error() string {
	return fmt.Sprintf("%s of ticket %q (record %d) committed but semantic index not synchronized: %v",
		e.Op, e.TicketNo, e.RecordID, e.Err)
}

func (e *PartialSyncError) Unwrap() []error {
	return []error{ErrIndexInconsistency, e.Err}
}

// IsPartial 判断是否为部分成功
func IsPartial(err error) bool {
	var pe *PartialSyncError
	return errors.As(err, &pe)
}
