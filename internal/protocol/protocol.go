// =============================================================================
// 文件: internal/protocol/protocol.go
// 描述: 转发帧格式 - ECN 码点随帧携带，便于在用户态 UDP 上观察与改写
// =============================================================================

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rathoresrikant/curvyred/internal/packet"
)

// 消息类型
const (
	TypeData = 0x02
)

const (
	// HeaderSize Type(1) + ECN(1) + FlowID(4) + Seq(4)
	HeaderSize = 10

	// MaxFrameSize 单个 UDP 负载上限
	MaxFrameSize = 65507

	// MaxPayloadSize 单帧最大数据量
	MaxPayloadSize = MaxFrameSize - HeaderSize

	offsetType   = 0
	offsetECN    = 1
	offsetFlowID = 2
	offsetSeq    = 6
)

var (
	ErrShortFrame   = errors.New("protocol: 帧太短")
	ErrUnknownType  = errors.New("protocol: 未知帧类型")
	ErrInvalidECN   = errors.New("protocol: 无效 ECN 码点")
	ErrFrameTooLong = errors.New("protocol: 帧超过最大长度")
)

// Header 帧头
type Header struct {
	ECN    packet.ECN
	FlowID uint32
	Seq    uint32
}

// BuildFrame 构建数据帧
// 格式: Type(1) + ECN(1) + FlowID(4) + Seq(4) + Payload(N)
func BuildFrame(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLong, len(payload), MaxPayloadSize)
	}
	if !h.ECN.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidECN, h.ECN)
	}

	frame := make([]byte, HeaderSize+len(payload))
	frame[offsetType] = TypeData
	frame[offsetECN] = byte(h.ECN)
	binary.BigEndian.PutUint32(frame[offsetFlowID:offsetSeq], h.FlowID)
	binary.BigEndian.PutUint32(frame[offsetSeq:HeaderSize], h.Seq)
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// ParseFrame 解析帧头，返回的负载与输入共享底层内存
func ParseFrame(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d < %d", ErrShortFrame, len(data), HeaderSize)
	}
	if data[offsetType] != TypeData {
		return Header{}, nil, fmt.Errorf("%w: type=0x%02X", ErrUnknownType, data[offsetType])
	}

	ecn := packet.ECN(data[offsetECN])
	if !ecn.Valid() {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrInvalidECN, data[offsetECN])
	}

	return Header{
		ECN:    ecn,
		FlowID: binary.BigEndian.Uint32(data[offsetFlowID:offsetSeq]),
		Seq:    binary.BigEndian.Uint32(data[offsetSeq:HeaderSize]),
	}, data[HeaderSize:], nil
}

// SetFrameECN 原地改写帧中的 ECN 字节
func SetFrameECN(frame []byte, ecn packet.ECN) error {
	if len(frame) < HeaderSize {
		return fmt.Errorf("%w: %d < %d", ErrShortFrame, len(frame), HeaderSize)
	}
	frame[offsetECN] = byte(ecn)
	return nil
}

// IsDataFrame 快速检查帧类型
func IsDataFrame(data []byte) bool {
	return len(data) >= HeaderSize && data[offsetType] == TypeData
}

// ToPacket 解析帧并包装为待转发数据包
func ToPacket(frame []byte) (*packet.Packet, error) {
	h, _, err := ParseFrame(frame)
	if err != nil {
		return nil, err
	}
	return &packet.Packet{
		FlowID: h.FlowID,
		Seq:    h.Seq,
		ECN:    h.ECN,
		Frame:  frame,
	}, nil
}
