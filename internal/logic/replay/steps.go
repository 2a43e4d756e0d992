package replay

import (
	"fmt"

	"dmlog-tracer-sol/internal/pkg/types"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// step 按执行顺序展开的一条指令（主指令 + 其 inner 指令）
type step struct {
	topIndex    int    // 所属主指令下标
	stackHeight uint32 // 主指令为 1，inner 指令 >= 2
	heightKnown bool   // 旧数据的 inner 指令没有 stack_height
	programID   types.Pubkey
	accounts    []types.Pubkey
	accountIdx  []byte // 原始账户下标，用于余额追踪
	data        []byte
}

// buildSteps 扁平化主指令与 inner 指令。
// inner 列表按主指令下标递增排列，顺序匹配即可；缺少 stack_height 的旧数据视为高度 2。
func buildSteps(tx *pb.SubscribeUpdateTransactionInfo, accountKeys []types.Pubkey) ([]step, error) {
	rawInstructions := tx.Transaction.Message.Instructions
	rawInners := tx.Meta.InnerInstructions

	steps := make([]step, 0, max(len(rawInstructions)*2, 8))
	innerIndex := 0

	for i, inst := range rawInstructions {
		s, err := newStep(accountKeys, i, 1, inst.ProgramIdIndex, inst.Accounts, inst.Data)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		s.heightKnown = true
		steps = append(steps, s)

		// 跳过下标不匹配的 inner 块
		for innerIndex < len(rawInners) && int(rawInners[innerIndex].Index) < i {
			innerIndex++
		}
		if innerIndex >= len(rawInners) || int(rawInners[innerIndex].Index) != i {
			continue
		}
		for j, inner := range rawInners[innerIndex].Instructions {
			height, known := uint32(2), false
			if inner.StackHeight != nil && *inner.StackHeight >= 2 {
				height, known = *inner.StackHeight, true
			}
			s, err := newStep(accountKeys, i, height, inner.ProgramIdIndex, inner.Accounts, inner.Data)
			if err != nil {
				return nil, fmt.Errorf("instruction %d inner %d: %w", i, j, err)
			}
			s.heightKnown = known
			steps = append(steps, s)
		}
		innerIndex++
	}
	return steps, nil
}

func newStep(accountKeys []types.Pubkey, topIndex int, height, programIdx uint32, accounts, data []byte) (step, error) {
	if int(programIdx) >= len(accountKeys) {
		return step{}, fmt.Errorf("program index %d out of range (%d keys)", programIdx, len(accountKeys))
	}
	resolved, err := resolveAccounts(accountKeys, accounts)
	if err != nil {
		return step{}, err
	}
	return step{
		topIndex:    topIndex,
		stackHeight: height,
		programID:   accountKeys[programIdx],
		accounts:    resolved,
		accountIdx:  accounts,
		data:        data,
	}, nil
}

// matches invoke 行的程序与调用深度是否对应该 step；深度未知时只要求是 CPI
func (s *step) matches(parsed parsedLog) bool {
	if s.programID.String() != parsed.programID {
		return false
	}
	if s.heightKnown {
		return s.stackHeight == parsed.height
	}
	return parsed.height >= 2
}
