// ============================================================================
// Ready Queue - 每個 node 的就緒緩衝區佇列
// ============================================================================
//
// Package: internal/readyqueue
// 文件: readyqueue.go
// 功能: 保存已到達、尚未被組成工作的緩衝區（FIFO）
//
// 設計理念:
//   兩階段提交（peek → take）：
//   1. Peek() 只查看隊首，用於判斷能否組成完整工作
//   2. TakeFront() 僅在工作確定可以派送後才呼叫
//   這樣失敗的組裝嘗試不會從任何佇列移除緩衝區
//
// 並發安全:
//   - 每個 Tracker 有自己的 sync.Mutex
//   - 所有操作都不阻塞，可以從任何 goroutine（包含中斷處理）呼叫
//   - 不可在持有此鎖時寫入硬體暫存器
//
// ============================================================================

package readyqueue

import (
	"sync"

	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

// Tracker 代表一個 node 的就緒佇列
type Tracker struct {
	mu    sync.Mutex
	items []types.Buffer // 依到達順序排列
}

// New 建立空的就緒佇列
func New() *Tracker {
	return &Tracker{items: make([]types.Buffer, 0, 8)}
}

// Enqueue 將緩衝區加到佇列尾端
//
// 併發安全：使用互斥鎖保護
func (t *Tracker) Enqueue(buf types.Buffer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, buf)
}

// Peek 回傳隊首緩衝區但不移除；佇列為空時回傳 nil
//
// 併發安全：使用互斥鎖保護
func (t *Tracker) Peek() types.Buffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.items) == 0 {
		return nil
	}
	return t.items[0]
}

// TakeFront 移除並回傳隊首緩衝區；佇列為空時回傳 nil
//
// 只應在工作已通過所有檢查後呼叫
func (t *Tracker) TakeFront() types.Buffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.items) == 0 {
		return nil
	}
	buf := t.items[0]
	t.items[0] = nil // 釋放引用
	t.items = t.items[1:]
	return buf
}

// Drain 移除並回傳所有緩衝區（依 FIFO 順序），用於停止串流
func (t *Tracker) Drain() []types.Buffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.items
	t.items = make([]types.Buffer, 0, 8)
	return out
}

// Len 回傳目前佇列長度
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
