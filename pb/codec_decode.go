package pb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// fieldFunc 处理单个字段，返回已消费的字节数；返回 -1 表示未知字段，由调用方跳过
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// Unmarshal 解析 Batch 二进制，未知字段被跳过（向前兼容）
func (m *Batch) Unmarshal(b []byte) error {
	*m = Batch{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 || typ != protowire.BytesType {
			return -1, nil
		}
		trx := &Transaction{}
		n, err := consumeMessage(b, trx.unmarshalField)
		if err != nil {
			return 0, fmt.Errorf("transaction %d: %w", len(m.Transactions), err)
		}
		m.Transactions = append(m.Transactions, trx)
		return n, nil
	})
}

func (m *Transaction) unmarshalField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == 1 && typ == protowire.BytesType:
		return consumeBytes(b, &m.Id)
	case num == 2 && typ == protowire.BytesType:
		var v []byte
		n, err := consumeBytes(b, &v)
		m.AdditionalSignatures = append(m.AdditionalSignatures, v)
		return n, err
	case num == 3 && typ == protowire.BytesType:
		m.Header = &MessageHeader{}
		return consumeMessage(b, m.Header.unmarshalField)
	case num == 4 && typ == protowire.BytesType:
		var v []byte
		n, err := consumeBytes(b, &v)
		m.AccountKeys = append(m.AccountKeys, v)
		return n, err
	case num == 5 && typ == protowire.BytesType:
		return consumeBytes(b, &m.RecentBlockhash)
	case num == 6 && typ == protowire.BytesType:
		l := &Log{}
		m.Logs = append(m.Logs, l)
		return consumeMessage(b, l.unmarshalField)
	case num == 7 && typ == protowire.BytesType:
		inst := &Instruction{}
		m.Instructions = append(m.Instructions, inst)
		return consumeMessage(b, inst.unmarshalField)
	case num == 8 && typ == protowire.VarintType:
		return consumeBool(b, &m.Failed)
	case num == 9 && typ == protowire.BytesType:
		m.Error = &TransactionError{}
		return consumeMessage(b, errorFields(&m.Error.Error, &m.Error.Kind))
	case num == 10 && typ == protowire.VarintType:
		return consumeUint64(b, &m.BeginOrdinal)
	}
	return -1, nil
}

func (m *MessageHeader) unmarshalField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if typ != protowire.VarintType {
		return -1, nil
	}
	switch num {
	case 1:
		return consumeUint32(b, &m.NumRequiredSignatures)
	case 2:
		return consumeUint32(b, &m.NumReadonlySignedAccounts)
	case 3:
		return consumeUint32(b, &m.NumReadonlyUnsignedAccounts)
	}
	return -1, nil
}

func (m *Instruction) unmarshalField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == 1 && typ == protowire.BytesType:
		return consumeBytes(b, &m.ProgramId)
	case num == 2 && typ == protowire.BytesType:
		var v []byte
		n, err := consumeBytes(b, &v)
		m.AccountKeys = append(m.AccountKeys, v)
		return n, err
	case num == 3 && typ == protowire.BytesType:
		return consumeBytes(b, &m.Data)
	case num == 4 && typ == protowire.VarintType:
		return consumeUint32(b, &m.Index)
	case num == 5 && typ == protowire.VarintType:
		return consumeUint32(b, &m.ParentIndex)
	case num == 6 && typ == protowire.VarintType:
		return consumeUint32(b, &m.Depth)
	case num == 7 && typ == protowire.BytesType:
		bc := &BalanceChange{}
		m.BalanceChanges = append(m.BalanceChanges, bc)
		return consumeMessage(b, bc.unmarshalField)
	case num == 8 && typ == protowire.BytesType:
		ac := &AccountChange{}
		m.AccountChanges = append(m.AccountChanges, ac)
		return consumeMessage(b, ac.unmarshalField)
	case num == 9 && typ == protowire.BytesType:
		l := &Log{}
		m.Logs = append(m.Logs, l)
		return consumeMessage(b, l.unmarshalField)
	case num == 10 && typ == protowire.VarintType:
		return consumeUint64(b, &m.BeginOrdinal)
	case num == 11 && typ == protowire.VarintType:
		return consumeUint64(b, &m.EndOrdinal)
	case num == 12 && typ == protowire.VarintType:
		return consumeBool(b, &m.Failed)
	case num == 13 && typ == protowire.BytesType:
		m.Error = &InstructionError{}
		return consumeMessage(b, errorFields(&m.Error.Error, &m.Error.Kind))
	}
	return -1, nil
}

func (m *Log) unmarshalField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == 1 && typ == protowire.BytesType:
		return consumeString(b, &m.Message)
	case num == 2 && typ == protowire.VarintType:
		return consumeUint64(b, &m.Ordinal)
	}
	return -1, nil
}

func (m *BalanceChange) unmarshalField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == 1 && typ == protowire.BytesType:
		return consumeBytes(b, &m.Pubkey)
	case num == 2 && typ == protowire.VarintType:
		return consumeUint64(b, &m.PrevLamports)
	case num == 3 && typ == protowire.VarintType:
		return consumeUint64(b, &m.NewLamports)
	}
	return -1, nil
}

func (m *AccountChange) unmarshalField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == 1 && typ == protowire.BytesType:
		return consumeBytes(b, &m.Pubkey)
	case num == 2 && typ == protowire.BytesType:
		return consumeBytes(b, &m.PrevData)
	case num == 3 && typ == protowire.BytesType:
		return consumeBytes(b, &m.NewData)
	case num == 4 && typ == protowire.VarintType:
		return consumeUint64(b, &m.NewDataLength)
	}
	return -1, nil
}

func errorFields(msg, kind *string) fieldFunc {
	return func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		switch num {
		case 1:
			return consumeString(b, msg)
		case 2:
			return consumeString(b, kind)
		}
		return -1, nil
	}
}

func consumeFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeMessage(b []byte, fn fieldFunc) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, consumeFields(v, fn)
}

func consumeBytes(b []byte, out *[]byte) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*out = append([]byte{}, v...)
	return n, nil
}

func consumeString(b []byte, out *string) (int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*out = v
	return n, nil
}

func consumeUint64(b []byte, out *uint64) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*out = v
	return n, nil
}

func consumeUint32(b []byte, out *uint32) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*out = uint32(v)
	return n, nil
}

func consumeBool(b []byte, out *bool) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*out = protowire.DecodeBool(v)
	return n, nil
}
