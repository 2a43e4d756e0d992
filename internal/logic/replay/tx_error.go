package replay

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode"

	"dmlog-tracer-sol/internal/deepmind"
)

// geyser 中的 TransactionError 是 bincode 编码：u32 小端变体编号 + 变体数据

const (
	txErrInstructionError = 8
	ixErrCustom           = 25
)

var transactionErrorNames = []string{
	"AccountInUse", "AccountLoadedTwice", "AccountNotFound", "ProgramAccountNotFound",
	"InsufficientFundsForFee", "InvalidAccountForFee", "AlreadyProcessed", "BlockhashNotFound",
	"InstructionError", "CallChainTooDeep", "MissingSignatureForFee", "InvalidAccountIndex",
	"SignatureFailure", "InvalidProgramForExecution", "SanitizeFailure", "ClusterMaintenance",
	"AccountBorrowOutstanding", "WouldExceedMaxBlockCostLimit", "UnsupportedVersion",
	"InvalidWritableAccount", "WouldExceedMaxAccountCostLimit", "WouldExceedAccountDataBlockLimit",
	"TooManyAccountLocks", "AddressLookupTableNotFound", "InvalidAddressLookupTableOwner",
	"InvalidAddressLookupTableData", "InvalidAddressLookupTableIndex", "InvalidRentPayingAccount",
	"WouldExceedMaxVoteCostLimit", "WouldExceedAccountDataTotalLimit", "DuplicateInstruction",
	"InsufficientFundsForRent", "MaxLoadedAccountsDataSizeExceeded", "InvalidLoadedAccountsDataSizeLimit",
	"ResanitizationNeeded", "ProgramExecutionTemporarilyRestricted", "UnbalancedTransaction",
	"ProgramCacheHitMaxLimit",
}

var instructionErrorNames = []string{
	"GenericError", "InvalidArgument", "InvalidInstructionData", "InvalidAccountData",
	"AccountDataTooSmall", "InsufficientFunds", "IncorrectProgramId", "MissingRequiredSignature",
	"AccountAlreadyInitialized", "UninitializedAccount", "UnbalancedInstruction", "ModifiedProgramId",
	"ExternalAccountLamportSpend", "ExternalAccountDataModified", "ReadonlyLamportChange",
	"ReadonlyDataModified", "DuplicateAccountIndex", "ExecutableModified", "RentEpochModified",
	"NotEnoughAccountKeys", "AccountDataSizeChanged", "AccountNotExecutable", "AccountBorrowFailed",
	"AccountBorrowOutstanding", "DuplicateAccountOutOfSync", "Custom", "InvalidError",
	"ExecutableDataModified", "ExecutableLamportChange", "ExecutableAccountNotRentExempt",
	"UnsupportedProgramId", "CallDepth", "MissingAccount", "ReentrancyNotAllowed",
	"MaxSeedLengthExceeded", "InvalidSeeds", "InvalidRealloc", "ComputationalBudgetExceeded",
	"PrivilegeEscalation", "ProgramEnvironmentSetupFailure", "ProgramFailedToComplete",
	"ProgramFailedToCompile", "Immutable", "IncorrectAuthority", "BorshIoError",
	"AccountNotRentExempt", "InvalidAccountOwner", "ArithmeticOverflow", "UnsupportedSysvar",
	"IllegalOwner", "MaxAccountsDataAllocationsExceeded", "MaxAccountsExceeded",
	"MaxInstructionTraceLengthExceeded", "BuiltinProgramsMustConsumeComputeUnits",
}

// txFailure 解码后的交易错误
type txFailure struct {
	err *deepmind.KindError

	// InstructionError 时有效：出错的主指令下标与指令级错误类别
	hasInstruction  bool
	instructionIdx  int
	instructionKind string
}

func decodeTransactionError(raw []byte) txFailure {
	if len(raw) < 4 {
		return txFailure{err: deepmind.NewKindError("transaction_error", fmt.Sprintf("transaction error: %x", raw))}
	}

	variant := binary.LittleEndian.Uint32(raw[:4])
	name := variantName(transactionErrorNames, variant)
	if variant != txErrInstructionError || len(raw) < 9 {
		return txFailure{err: deepmind.NewKindError(snakeCase(name), name)}
	}

	index := int(raw[4])
	inner := binary.LittleEndian.Uint32(raw[5:9])
	innerName := variantName(instructionErrorNames, inner)
	detail := innerName
	if inner == ixErrCustom && len(raw) >= 13 {
		detail = fmt.Sprintf("Custom(%d)", binary.LittleEndian.Uint32(raw[9:13]))
	}

	return txFailure{
		err:             deepmind.NewKindError(snakeCase(name), fmt.Sprintf("%s(%d, %s)", name, index, detail)),
		hasInstruction:  true,
		instructionIdx:  index,
		instructionKind: snakeCase(innerName),
	}
}

func variantName(names []string, variant uint32) string {
	if int(variant) < len(names) {
		return names[variant]
	}
	return fmt.Sprintf("Unknown%d", variant)
}

// snakeCase InsufficientFundsForFee -> insufficient_funds_for_fee
func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// instructionFailure 从 "Program <id> failed: <reason>" 推断指令级错误
func instructionFailure(reason string, fallbackKind string) *deepmind.KindError {
	kind := fallbackKind
	if strings.HasPrefix(reason, "custom program error") {
		kind = "custom"
	}
	if kind == "" {
		kind = "instruction_error"
	}
	return deepmind.NewKindError(kind, reason)
}
