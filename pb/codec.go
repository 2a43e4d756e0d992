// Package pb 定义 dmlog 批次文件的消息结构（sf.solana.codec.v1，见 codec.proto），
// 编解码直接基于 protobuf 线格式（protowire），输出与 protoc 生成代码字节兼容。
package pb

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrInvalidUTF8 = errors.New("string field contains invalid UTF-8")

type Batch struct {
	Transactions []*Transaction
}

type Transaction struct {
	Id                   []byte
	AdditionalSignatures [][]byte
	Header               *MessageHeader
	AccountKeys          [][]byte
	RecentBlockhash      []byte
	Logs                 []*Log
	Instructions         []*Instruction
	Failed               bool
	Error                *TransactionError
	BeginOrdinal         uint64
}

type MessageHeader struct {
	NumRequiredSignatures       uint32
	NumReadonlySignedAccounts   uint32
	NumReadonlyUnsignedAccounts uint32
}

type Instruction struct {
	ProgramId      []byte
	AccountKeys    [][]byte
	Data           []byte
	Index          uint32
	ParentIndex    uint32
	Depth          uint32
	BalanceChanges []*BalanceChange
	AccountChanges []*AccountChange
	Logs           []*Log
	BeginOrdinal   uint64
	EndOrdinal     uint64
	Failed         bool
	Error          *InstructionError
}

type Log struct {
	Message string
	Ordinal uint64
}

type BalanceChange struct {
	Pubkey       []byte
	PrevLamports uint64
	NewLamports  uint64
}

type AccountChange struct {
	Pubkey        []byte
	PrevData      []byte
	NewData       []byte
	NewDataLength uint64
}

type TransactionError struct {
	Error string
	Kind  string
}

type InstructionError struct {
	Error string
	Kind  string
}

// ---------------------------------------------------------------------------
// 编码
// ---------------------------------------------------------------------------

// Marshal 将 Batch 编码为 protobuf 二进制
func (m *Batch) Marshal() ([]byte, error) {
	return m.MarshalAppend(nil)
}

// MarshalAppend 追加编码到 buf 之后，便于调用方预分配缓冲区
func (m *Batch) MarshalAppend(buf []byte) ([]byte, error) {
	if m == nil {
		return buf, nil
	}
	for i, trx := range m.Transactions {
		if trx == nil {
			return nil, fmt.Errorf("batch: nil transaction at index %d", i)
		}
		var err error
		buf, err = appendMessage(buf, 1, trx.appendTo)
		if err != nil {
			return nil, fmt.Errorf("batch: transaction %d: %w", i, err)
		}
	}
	return buf, nil
}

func (m *Transaction) appendTo(b []byte) ([]byte, error) {
	b = appendBytesField(b, 1, m.Id)
	for _, sig := range m.AdditionalSignatures {
		b = appendRepeatedBytes(b, 2, sig)
	}
	if m.Header != nil {
		b, _ = appendMessage(b, 3, m.Header.appendTo)
	}
	for _, key := range m.AccountKeys {
		b = appendRepeatedBytes(b, 4, key)
	}
	b = appendBytesField(b, 5, m.RecentBlockhash)
	for _, l := range m.Logs {
		if l == nil {
			return nil, fmt.Errorf("nil log entry")
		}
		var err error
		if b, err = appendMessage(b, 6, l.appendTo); err != nil {
			return nil, fmt.Errorf("log: %w", err)
		}
	}
	for i, inst := range m.Instructions {
		if inst == nil {
			return nil, fmt.Errorf("nil instruction at index %d", i)
		}
		var err error
		b, err = appendMessage(b, 7, inst.appendTo)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i+1, err)
		}
	}
	b = appendBoolField(b, 8, m.Failed)
	if m.Error != nil {
		var err error
		if b, err = appendMessage(b, 9, func(b []byte) ([]byte, error) {
			return appendErrorFields(b, m.Error.Error, m.Error.Kind)
		}); err != nil {
			return nil, fmt.Errorf("transaction error: %w", err)
		}
	}
	b = appendVarintField(b, 10, m.BeginOrdinal)
	return b, nil
}

func (m *MessageHeader) appendTo(b []byte) ([]byte, error) {
	b = appendVarintField(b, 1, uint64(m.NumRequiredSignatures))
	b = appendVarintField(b, 2, uint64(m.NumReadonlySignedAccounts))
	b = appendVarintField(b, 3, uint64(m.NumReadonlyUnsignedAccounts))
	return b, nil
}

func (m *Instruction) appendTo(b []byte) ([]byte, error) {
	b = appendBytesField(b, 1, m.ProgramId)
	for _, key := range m.AccountKeys {
		b = appendRepeatedBytes(b, 2, key)
	}
	b = appendBytesField(b, 3, m.Data)
	b = appendVarintField(b, 4, uint64(m.Index))
	b = appendVarintField(b, 5, uint64(m.ParentIndex))
	b = appendVarintField(b, 6, uint64(m.Depth))
	for _, bc := range m.BalanceChanges {
		if bc == nil {
			return nil, fmt.Errorf("nil balance change")
		}
		b, _ = appendMessage(b, 7, bc.appendTo)
	}
	for _, ac := range m.AccountChanges {
		if ac == nil {
			return nil, fmt.Errorf("nil account change")
		}
		b, _ = appendMessage(b, 8, ac.appendTo)
	}
	for _, l := range m.Logs {
		if l == nil {
			return nil, fmt.Errorf("nil log entry")
		}
		var err error
		if b, err = appendMessage(b, 9, l.appendTo); err != nil {
			return nil, fmt.Errorf("log: %w", err)
		}
	}
	b = appendVarintField(b, 10, m.BeginOrdinal)
	b = appendVarintField(b, 11, m.EndOrdinal)
	b = appendBoolField(b, 12, m.Failed)
	if m.Error != nil {
		var err error
		if b, err = appendMessage(b, 13, func(b []byte) ([]byte, error) {
			return appendErrorFields(b, m.Error.Error, m.Error.Kind)
		}); err != nil {
			return nil, fmt.Errorf("instruction error: %w", err)
		}
	}
	return b, nil
}

func (m *Log) appendTo(b []byte) ([]byte, error) {
	b, err := appendStringField(b, 1, m.Message)
	if err != nil {
		return nil, err
	}
	b = appendVarintField(b, 2, m.Ordinal)
	return b, nil
}

func (m *BalanceChange) appendTo(b []byte) ([]byte, error) {
	b = appendBytesField(b, 1, m.Pubkey)
	b = appendVarintField(b, 2, m.PrevLamports)
	b = appendVarintField(b, 3, m.NewLamports)
	return b, nil
}

func (m *AccountChange) appendTo(b []byte) ([]byte, error) {
	b = appendBytesField(b, 1, m.Pubkey)
	b = appendBytesField(b, 2, m.PrevData)
	b = appendBytesField(b, 3, m.NewData)
	b = appendVarintField(b, 4, m.NewDataLength)
	return b, nil
}

func appendErrorFields(b []byte, msg, kind string) ([]byte, error) {
	b, err := appendStringField(b, 1, msg)
	if err != nil {
		return nil, err
	}
	return appendStringField(b, 2, kind)
}

// appendMessage 先编码子消息再以 length-delimited 形式写入
func appendMessage(b []byte, num protowire.Number, fn func([]byte) ([]byte, error)) ([]byte, error) {
	inner, err := fn(nil)
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner), nil
}

// proto3 标量零值不落盘
func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	return appendRepeatedBytes(b, num, v)
}

// repeated 元素即使为空也要写入，保证条目数量不变
func appendRepeatedBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// proto3 string 必须是合法 UTF-8，否则下游 protoc 生成的解码器会拒绝整个批次
func appendStringField(b []byte, num protowire.Number, v string) ([]byte, error) {
	if v == "" {
		return b, nil
	}
	if !utf8.ValidString(v) {
		return nil, fmt.Errorf("%w: field %d", ErrInvalidUTF8, num)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v), nil
}
