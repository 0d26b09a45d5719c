package model

import (
	"errors"
	"fmt"
)

// ErrorCode 错误分类
type ErrorCode string

const (
	// 实时行情地址未配置：行情永久不可用，静默降级
	ErrCodeConfigurationMissing ErrorCode = "CONFIGURATION_MISSING"
	// 连接/发送失败：以横幅提示，不重试
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
	// 消息无法解析：丢弃并记录日志，连接保持
	ErrCodeParse ErrorCode = "PARSE_ERROR"
	// REST 请求失败：历史数据视为空/过期
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	// 结果对应的周期/币种已不是当前值：丢弃，不算错误
	ErrCodeAbandonedResult ErrorCode = "ABANDONED_RESULT"
	ErrCodeUnknown         ErrorCode = "UNKNOWN"
)

// FeedError 带分类的错误
type FeedError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *FeedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FeedError) Unwrap() error {
	return e.Cause
}

// NewFeedError 创建分类错误
func NewFeedError(code ErrorCode, message string, cause error) *FeedError {
	return &FeedError{Code: code, Message: message, Cause: cause}
}

// ErrAbandoned 被新请求取代的结果
var ErrAbandoned = NewFeedError(ErrCodeAbandonedResult, "result superseded", nil)

// CodeOf 返回错误链中第一个 FeedError 的分类
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var fe *FeedError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrCodeUnknown
}
