package deepmind

// Ordinal 交易内的全局序号时钟。
// 每个控制流事件（指令开始、日志、指令结束）恰好消费一个序号，序号从 1 开始连续递增。
type Ordinal struct {
	next uint64
}

func NewOrdinal() Ordinal {
	return Ordinal{next: 1}
}

// Next 返回当前序号并前进一格
func (o *Ordinal) Next() uint64 {
	v := o.next
	o.next++
	return v
}

// Peek 返回下一个将被分配的序号，不消费
func (o *Ordinal) Peek() uint64 {
	return o.next
}
