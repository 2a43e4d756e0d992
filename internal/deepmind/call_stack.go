package deepmind

// rootIndex 调用栈底部的哨兵，表示"没有打开的指令"
const rootIndex uint32 = 0

// CallStack 当前打开的指令 index 栈，栈底固定为哨兵 0。
type CallStack struct {
	stack []uint32
}

func NewCallStack() CallStack {
	s := make([]uint32, 1, 8)
	s[0] = rootIndex
	return CallStack{stack: s}
}

func (s *CallStack) Push(index uint32) {
	s.stack = append(s.stack, index)
}

// Pop 弹出栈顶指令；只剩哨兵时返回 false，哨兵永远不会被弹出
func (s *CallStack) Pop() (uint32, bool) {
	if !s.HasActive() {
		return rootIndex, false
	}
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return top, true
}

// Top 栈顶 index，没有打开的指令时为 0
func (s *CallStack) Top() uint32 {
	if len(s.stack) == 0 {
		return rootIndex
	}
	return s.stack[len(s.stack)-1]
}

func (s *CallStack) HasActive() bool {
	return s.Top() > rootIndex
}

// Len 包含哨兵在内的栈长度
func (s *CallStack) Len() int {
	return len(s.stack)
}
