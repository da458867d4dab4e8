package service

import (
	"errors"
	"fmt"

	"chatfabrica-go/internal/repository"
	"chatfabrica-go/pkg/log"
)

// ErrorKind 决定错误在 HTTP 层映射成哪个状态码。
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindPrecondition
	KindNotFound
	KindQuota
	KindInsufficientCredit
	KindUpstream
)

// AppError 是业务层对外暴露的错误，Message 可以直接展示给用户。
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

var (
	ErrRunFailed   = errors.New("assistant run did not complete")
	ErrRunTimedOut = errors.New("assistant run timed out")

	ErrAPIKeyRequired     = &AppError{Kind: KindPrecondition, Message: "OpenAI key is required. Please add your OpenAI API key in your account settings."}
	ErrInsufficientCredit = &AppError{Kind: KindInsufficientCredit, Message: "User has no credits", Err: repository.ErrInsufficientCredit}
	ErrChatbotNotFound    = &AppError{Kind: KindNotFound, Message: "Chatbot does not exist"}
	ErrChatLogNotFound    = &AppError{Kind: KindNotFound, Message: "Chatlog not found"}
	ErrUserNotFound       = &AppError{Kind: KindNotFound, Message: "User does not exist"}
	ErrNoPlan             = &AppError{Kind: KindPrecondition, Message: "User does not have a plan"}
	ErrChatbotLimit       = &AppError{Kind: KindQuota, Message: "You have reached the limit of chatbots"}
	ErrThreadBusy         = &AppError{Kind: KindPrecondition, Message: "This conversation is busy, please retry in a moment"}
	ErrInvalidCredentials = &AppError{Kind: KindPrecondition, Message: "Invalid email or password"}
)

func precondition(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

func quota(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindQuota, Message: fmt.Sprintf(format, args...)}
}

func upstream(message string, err error) *AppError {
	return &AppError{Kind: KindUpstream, Message: message, Err: err}
}

// KindOf 返回错误的类别，非 AppError 一律视为内部错误。
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// internal 是编排方法统一的兜底：业务错误原样返回，其余错误记录日志后换成通用的内部错误。
func internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	log.Errorw("["+op+"] 处理失败", "error", err)
	return &AppError{Kind: KindInternal, Message: "Something went wrong, please try again later", Err: err}
}
