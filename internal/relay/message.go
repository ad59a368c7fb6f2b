package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aegis-sign/psbt-bridge/internal/page"
	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
)

// MessageType 是线上格式里的 type 字段。
type MessageType string

const (
	TypeFindPSBT  MessageType = "findPSBT"
	TypePastePSBT MessageType = "pastePSBT"
)

// ErrUnknownMessage 表示线上收到了未知 type，listener 对其静默忽略。
var ErrUnknownMessage = errors.New("unknown relay message type")

// Message 是 Relay 上传递的封闭变体：FindPSBT | PastePSBT。
type Message interface {
	Type() MessageType
	isMessage()
}

// FindPSBT 请求 content script 提取签名请求。
type FindPSBT struct{}

// Type 实现 Message。
func (FindPSBT) Type() MessageType { return TypeFindPSBT }
func (FindPSBT) isMessage()        {}

// PastePSBT 要求 content script 回写签名结果并触发审批。
type PastePSBT struct {
	PSBT string
}

// Type 实现 Message。
func (PastePSBT) Type() MessageType { return TypePastePSBT }
func (PastePSBT) isMessage()        {}

// Response 是 findPSBT 的应答；pastePSBT 的应答恒为空。
type Response = page.SigningRequest

type wireMessage struct {
	Type MessageType `json:"type"`
	PSBT *string     `json:"psbt,omitempty"`
}

// Encode 将消息编码为 JSON 线上格式。
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case FindPSBT:
		return json.Marshal(wireMessage{Type: TypeFindPSBT})
	case PastePSBT:
		psbt := m.PSBT
		return json.Marshal(wireMessage{Type: TypePastePSBT, PSBT: &psbt})
	default:
		return nil, fmt.Errorf("cannot encode %T", msg)
	}
}

// Decode 解析 JSON 线上格式。未知 type 返回 ErrUnknownMessage。
func Decode(raw []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInvalidArgument, "invalid relay message", err)
	}
	switch wire.Type {
	case TypeFindPSBT:
		return FindPSBT{}, nil
	case TypePastePSBT:
		if wire.PSBT == nil {
			return nil, apierrors.New(apierrors.CodeInvalidArgument, "pastePSBT requires psbt")
		}
		return PastePSBT{PSBT: *wire.PSBT}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, wire.Type)
	}
}

// EncodeResponse 将应答编码为 JSON。
func EncodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse 解析 JSON 应答，空载荷视为空应答。
func DecodeResponse(raw []byte) (Response, error) {
	var resp Response
	if len(raw) == 0 || string(raw) == "null" {
		return resp, nil
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, apierrors.Wrap(apierrors.CodeInvalidArgument, "invalid relay response", err)
	}
	return resp, nil
}
