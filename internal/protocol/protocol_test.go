// =============================================================================
// 文件: internal/protocol/protocol_test.go
// =============================================================================

package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rathoresrikant/curvyred/internal/packet"
)

func TestBuildAndParseFrame(t *testing.T) {
	payload := []byte("hello dualq")
	frame, err := BuildFrame(Header{ECN: packet.ECT1, FlowID: 7, Seq: 0x01020304}, payload)
	if err != nil {
		t.Fatalf("构建失败: %v", err)
	}

	want := []byte{TypeData, 0x01, 0x00, 0x00, 0x00, 0x07, 0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(frame[:HeaderSize], want) {
		t.Errorf("帧头 = % X, want % X", frame[:HeaderSize], want)
	}

	h, got, err := ParseFrame(frame)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if h.ECN != packet.ECT1 {
		t.Errorf("ECN = %s, want ect1", h.ECN)
	}
	if h.FlowID != 7 {
		t.Errorf("FlowID = %d, want 7", h.FlowID)
	}
	if h.Seq != 0x01020304 {
		t.Errorf("Seq = %d", h.Seq)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Payload = %q, want %q", got, payload)
	}
}

func TestParseFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"太短", []byte{TypeData, 0x01}, ErrShortFrame},
		{"未知类型", []byte{0x09, 0, 0, 0, 0, 0, 0, 0, 0, 0}, ErrUnknownType},
		{"无效 ECN", []byte{TypeData, 0x04, 0, 0, 0, 0, 0, 0, 0, 0}, ErrInvalidECN},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseFrame(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuildFrameTooLong(t *testing.T) {
	_, err := BuildFrame(Header{}, make([]byte, MaxPayloadSize+1))
	if !errors.Is(err, ErrFrameTooLong) {
		t.Errorf("err = %v, want ErrFrameTooLong", err)
	}
}

func TestSetFrameECN(t *testing.T) {
	frame, _ := BuildFrame(Header{ECN: packet.ECT1, FlowID: 1}, []byte{0xAA})
	if err := SetFrameECN(frame, packet.CE); err != nil {
		t.Fatal(err)
	}
	h, payload, _ := ParseFrame(frame)
	if h.ECN != packet.CE {
		t.Errorf("ECN = %s, want ce", h.ECN)
	}
	if payload[0] != 0xAA {
		t.Error("改写 ECN 不应影响负载")
	}

	if err := SetFrameECN([]byte{TypeData}, packet.CE); !errors.Is(err, ErrShortFrame) {
		t.Errorf("短帧应返回 ErrShortFrame, got %v", err)
	}
}

func TestToPacket(t *testing.T) {
	frame, _ := BuildFrame(Header{ECN: packet.ECT0, FlowID: 3, Seq: 9}, make([]byte, 90))
	p, err := ToPacket(frame)
	if err != nil {
		t.Fatal(err)
	}
	if p.Size() != 100 || p.FlowID != 3 || p.Seq != 9 || p.ECN != packet.ECT0 {
		t.Errorf("数据包字段错误: %+v", p)
	}
	if !IsDataFrame(frame) {
		t.Error("应识别为数据帧")
	}
}
