package nativemsg

// RequestType 是凭据 host 支持的请求种类。
type RequestType string

const (
	TypeSessionExists RequestType = "sessionExists"
	TypeSavePassword  RequestType = "savePassword"
	TypeGetPassword   RequestType = "getPassword"
	TypeClearPassword RequestType = "clearPassword"
)

// Request 是所有入站请求的公共信封。
type Request struct {
	Type      RequestType `json:"type"`
	RequestID string      `json:"requestId"`
	Password  *string     `json:"password,omitempty"`
}

// Response 回显 requestId；Error 非空表示失败。
type Response struct {
	RequestID string     `json:"requestId"`
	Exists    bool       `json:"exists,omitempty"`
	Password  string     `json:"password,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// ErrorBody 对应 apierrors 的错误码与信息。
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
