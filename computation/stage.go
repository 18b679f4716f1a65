package computation

// Stage is one point in the liquid legions sketch aggregation state machine.
// WAIT_* stages block on artifacts from peers, TO_* stages are worked locally
// by the mill.
type Stage uint32

const (
	StageUnknown Stage = iota
	StageCreated
	StageToAddNoise
	StageWaitSketches
	StageToAppendSketchesAndAddNoise
	StageWaitConcatenated
	StageToBlindPositions
	StageToBlindPositionsAndJoinRegisters
	StageWaitFlagCounts
	StageToDecryptFlagCounts
	StageToDecryptFlagCountsAndComputeMetrics
	StageCompleted
)

func (s Stage) String() string {
	switch s {
	case StageCreated:
		return "CREATED"
	case StageToAddNoise:
		return "TO_ADD_NOISE"
	case StageWaitSketches:
		return "WAIT_SKETCHES"
	case StageToAppendSketchesAndAddNoise:
		return "TO_APPEND_SKETCHES_AND_ADD_NOISE"
	case StageWaitConcatenated:
		return "WAIT_CONCATENATED"
	case StageToBlindPositions:
		return "TO_BLIND_POSITIONS"
	case StageToBlindPositionsAndJoinRegisters:
		return "TO_BLIND_POSITIONS_AND_JOIN_REGISTERS"
	case StageWaitFlagCounts:
		return "WAIT_FLAG_COUNTS"
	case StageToDecryptFlagCounts:
		return "TO_DECRYPT_FLAG_COUNTS"
	case StageToDecryptFlagCountsAndComputeMetrics:
		return "TO_DECRYPT_FLAG_COUNTS_AND_COMPUTE_METRICS"
	case StageCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN_STAGE"
	}
}

// IsWait reports whether the stage blocks on artifacts from peers.
func (s Stage) IsWait() bool {
	switch s {
	case StageWaitSketches, StageWaitConcatenated, StageWaitFlagCounts:
		return true
	}
	return false
}

// IsTerminal reports whether the computation is finished in this stage.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted
}

// ValidTransition reports whether a computation held by a duchy with the
// given role may move from one stage to the next. The token store asserts
// this on every committed transition.
func ValidTransition(role Role, from, to Stage) bool {
	switch from {
	case StageCreated:
		return to == StageToAddNoise
	case StageToAddNoise:
		switch role {
		case RolePrimary:
			return to == StageWaitSketches
		case RoleSecondary:
			return to == StageWaitConcatenated
		}
	case StageWaitSketches:
		return to == StageToAppendSketchesAndAddNoise
	case StageToAppendSketchesAndAddNoise:
		return to == StageWaitConcatenated
	case StageWaitConcatenated:
		switch role {
		case RolePrimary:
			return to == StageToBlindPositionsAndJoinRegisters
		case RoleSecondary:
			return to == StageToBlindPositions
		}
	case StageToBlindPositions, StageToBlindPositionsAndJoinRegisters:
		return to == StageWaitFlagCounts
	case StageWaitFlagCounts:
		switch role {
		case RolePrimary:
			return to == StageToDecryptFlagCountsAndComputeMetrics
		case RoleSecondary:
			return to == StageToDecryptFlagCounts
		}
	case StageToDecryptFlagCounts, StageToDecryptFlagCountsAndComputeMetrics:
		return to == StageCompleted
	}
	return false
}
