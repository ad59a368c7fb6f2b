package apierrors

import (
	"errors"

	"google.golang.org/grpc/codes"
)

// Code 表示统一业务错误码。
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeTransport 表示跨上下文通道本身损坏（例如扩展上下文失效），只上报不重试。
	CodeTransport Code = "TRANSPORT"
	// CodeUnavailable 表示当前执行环境缺少所需能力（存储、消息通道）。
	CodeUnavailable Code = "UNAVAILABLE"
	CodeNotFound    Code = "NOT_FOUND"
	// CodePermissionDenied 表示调用方不被信任，例如来自网页的跨站请求。
	CodePermissionDenied Code = "PERMISSION_DENIED"
)

var httpStatusMap = map[Code]int{
	CodeInvalidArgument:  400,
	CodeTransport:        502,
	CodeUnavailable:      503,
	CodeNotFound:         404,
	CodePermissionDenied: 403,
}

var grpcStatusMap = map[Code]codes.Code{
	CodeInvalidArgument:  codes.InvalidArgument,
	CodeTransport:        codes.Unavailable,
	CodeUnavailable:      codes.FailedPrecondition,
	CodeNotFound:         codes.NotFound,
	CodePermissionDenied: codes.PermissionDenied,
}

// Error 表示带统一错误码的业务错误。
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New 创建一个新的业务错误。
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap 创建携带底层原因的业务错误，底层原因可通过 errors.Is/As 访问。
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

// Unwrap 暴露底层原因。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// FromError 尝试从通用 error 中解析业务错误。
func FromError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsCode 判断 err 链上是否存在指定错误码。
func IsCode(err error, code Code) bool {
	apiErr, ok := FromError(err)
	return ok && apiErr.Code == code
}

// HTTPStatus 返回对应的 HTTP 状态码，未知错误默认 500。
func HTTPStatus(code Code) int {
	if status, ok := httpStatusMap[code]; ok {
		return status
	}
	return 500
}

// GRPCStatus 返回对应的 gRPC code，未知错误默认 Internal。
func GRPCStatus(code Code) codes.Code {
	if status, ok := grpcStatusMap[code]; ok {
		return status
	}
	return codes.Internal
}

// FromGRPC 将 gRPC code 映射回业务错误码，供客户端还原错误。
func FromGRPC(c codes.Code) Code {
	for code, status := range grpcStatusMap {
		if status == c {
			return code
		}
	}
	return Code("INTERNAL_ERROR")
}
