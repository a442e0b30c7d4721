// Package types 定義了 ISP back-end 排程器中共用的核心領域模型
package types

import (
	"fmt"
	"time"
)

// NodeID identifies one logical queue of a node group.
//
// The order matters: it is the order buffers are listed in a job (source
// images, then captures, then metadata last).
type NodeID int

// Node roles. NumNodes must stay last.
const (
	MainInput NodeID = iota
	TDNInput
	StitchInput
	HOGOutput
	Output0
	Output1
	TDNOutput
	StitchOutput
	Config
	NumNodes
)

// AllNodes lists every node role in job order.
var AllNodes = [NumNodes]NodeID{
	MainInput, TDNInput, StitchInput, HOGOutput,
	Output0, Output1, TDNOutput, StitchOutput, Config,
}

// Direction tells whether a node feeds the hardware or receives from it.
type Direction int

const (
	DirectionInput  Direction = iota // 送入硬體（來源影像、設定）
	DirectionOutput                  // 由硬體寫出
)

func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Kind tells whether a node carries image planes or a metadata blob.
type Kind int

const (
	KindImage Kind = iota
	KindMeta
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindMeta:
		return "meta"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// String returns the node name used in logs and status output.
func (n NodeID) String() string {
	switch n {
	case MainInput:
		return "input"
	case TDNInput:
		return "tdn_input"
	case StitchInput:
		return "stitch_input"
	case HOGOutput:
		return "hog_output"
	case Output0:
		return "output0"
	case Output1:
		return "output1"
	case TDNOutput:
		return "tdn_output"
	case StitchOutput:
		return "stitch_output"
	case Config:
		return "config"
	}
	return fmt.Sprintf("node(%d)", int(n))
}

// Valid reports whether n names one of the nine node roles.
func (n NodeID) Valid() bool {
	return n >= MainInput && n < NumNodes
}

// Bit returns the node's bit in a streaming bitmap.
func (n NodeID) Bit() uint32 {
	return 1 << uint(n)
}

// Direction returns which way data flows through the node.
func (n NodeID) Direction() Direction {
	switch n {
	case MainInput, TDNInput, StitchInput, Config:
		return DirectionInput
	case HOGOutput, Output0, Output1, TDNOutput, StitchOutput:
		return DirectionOutput
	}
	panic(fmt.Sprintf("types: invalid node %d", int(n)))
}

// Kind returns whether the node carries images or metadata.
func (n NodeID) Kind() Kind {
	switch n {
	case HOGOutput, Config:
		return KindMeta
	case MainInput, TDNInput, StitchInput, Output0, Output1, TDNOutput, StitchOutput:
		return KindImage
	}
	panic(fmt.Sprintf("types: invalid node %d", int(n)))
}

// Multiplanar reports whether buffers of this node may carry up to three
// image planes. The remaining nodes are always single plane.
func (n NodeID) Multiplanar() bool {
	switch n {
	case MainInput, Output0, Output1:
		return true
	case TDNInput, StitchInput, HOGOutput, TDNOutput, StitchOutput, Config:
		return false
	}
	panic(fmt.Sprintf("types: invalid node %d", int(n)))
}

// BufferState 緩衝區歸還時的狀態
type BufferState int

const (
	StateDone      BufferState = iota // 硬體處理完成
	StateError                        // 工作派送失敗
	StateCancelled                    // 串流停止時取消
)

func (s BufferState) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Completion carries what the scheduler stamps on a returned buffer.
type Completion struct {
	Sequence  uint32    // node group 的完成序號
	Timestamp time.Time // 完成時間
}

// Buffer is a handle owned by the buffer-queue subsystem.
//
// PlaneAddr must return a stable DMA address for as long as the buffer is
// held by the scheduler; zero means the plane is not present. Done is
// called exactly once per hand-over, for success and cancellation alike.
type Buffer interface {
	Index() int
	NumPlanes() int
	PlaneAddr(plane int) uint64
	Done(state BufferState, c Completion)
}
