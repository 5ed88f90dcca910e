// =============================================================================
// 文件: internal/aqm/store.go
// 描述: 双子队列存储 - Classic/L4S 两个 FIFO，共享字节/包数上限
// =============================================================================
package aqm

// fifo 单个子队列
type fifo struct {
	items []Item
	head  int

	bytes   uint64
	packets uint64
}

const fifoCompactThreshold = 64

func (q *fifo) push(item Item) {
	q.items = append(q.items, item)
	q.bytes += uint64(item.Size())
	q.packets++
}

func (q *fifo) peek() (Item, bool) {
	if q.head >= len(q.items) {
		return nil, false
	}
	return q.items[q.head], true
}

func (q *fifo) pop() (Item, bool) {
	if q.head >= len(q.items) {
		return nil, false
	}
	item := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	q.bytes -= uint64(item.Size())
	q.packets--

	// 头部空洞过多时压缩底层切片
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head >= fifoCompactThreshold && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = nil
		}
		q.items = q.items[:n]
		q.head = 0
	}
	return item, true
}

// Store 双子队列存储
type Store struct {
	queues [2]fifo
	mode   Mode
	limit  uint32
}

// NewStore 创建存储
func NewStore(mode Mode, limit uint32) *Store {
	return &Store{mode: mode, limit: limit}
}

// SetLimit 更新模式和上限，已驻留的数据包保留
func (s *Store) SetLimit(mode Mode, limit uint32) {
	s.mode = mode
	s.limit = limit
}

// Classify 根据外部分类结果选择子队列
func (s *Store) Classify(item Item) Class {
	if item.IsL4S() {
		return ClassL4S
	}
	return ClassClassic
}

// Occupancy 两个子队列合计的字节数与包数
func (s *Store) Occupancy() (bytes, packets uint64) {
	for i := range s.queues {
		bytes += s.queues[i].bytes
		packets += s.queues[i].packets
	}
	return bytes, packets
}

// Size 按配置模式计量的占用
func (s *Store) Size() uint64 {
	bytes, packets := s.Occupancy()
	if s.mode == ModeBytes {
		return bytes
	}
	return packets
}

// Admits 判断共享上限是否允许该数据包进入
func (s *Store) Admits(item Item) bool {
	bytes, packets := s.Occupancy()
	if s.mode == ModeBytes {
		return bytes+uint64(item.Size()) <= uint64(s.limit)
	}
	return packets+1 <= uint64(s.limit)
}

// TryEnqueue 容量检查通过后追加到子队列尾部，否则不做任何修改
func (s *Store) TryEnqueue(item Item, class Class) error {
	if !s.Admits(item) {
		return ErrCapacityExceeded
	}
	s.queues[class].push(item)
	return nil
}

// PeekHead 查看子队列头部
func (s *Store) PeekHead(class Class) (Item, bool) {
	return s.queues[class].peek()
}

// DequeueHead 取出子队列头部
func (s *Store) DequeueHead(class Class) (Item, bool) {
	return s.queues[class].pop()
}

// Len 子队列包数
func (s *Store) Len(class Class) uint64 {
	return s.queues[class].packets
}

// Bytes 子队列字节数
func (s *Store) Bytes(class Class) uint64 {
	return s.queues[class].bytes
}

// Empty 两个子队列是否都为空
func (s *Store) Empty() bool {
	_, packets := s.Occupancy()
	return packets == 0
}
