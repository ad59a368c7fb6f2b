// Package nativemsg 实现浏览器 Native Messaging 协议：4 字节小端长度前缀加 JSON 载荷。
package nativemsg

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize 是单条消息的上限（1 MiB）。
const MaxMessageSize = 1024 * 1024

var (
	errEmptyFrame = errors.New("invalid message length: 0")
	// ErrFrameTooLarge 表示消息超过 MaxMessageSize。
	ErrFrameTooLarge = errors.New("message too large")
)

// Read 读取一条消息并返回原始 JSON。
func Read(r io.Reader) (json.RawMessage, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, errEmptyFrame
	}
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, MaxMessageSize)
	}
	msg := make([]byte, length)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, fmt.Errorf("read message payload: %w", err)
	}
	return json.RawMessage(msg), nil
}

// Write 将 msg 编码为 JSON 并写出一条带长度前缀的消息。
func Write(w io.Writer, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(data), MaxMessageSize)
	}
	frame := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
