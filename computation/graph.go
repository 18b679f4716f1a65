package computation

// ArtifactKind identifies the inbound artifact streams a duchy accepts from
// its peers.
type ArtifactKind uint32

const (
	ArtifactUnknown ArtifactKind = iota
	ArtifactNoisedSketch
	ArtifactConcatenatedSketch
	ArtifactFlagsAndCounts
)

func (k ArtifactKind) String() string {
	switch k {
	case ArtifactNoisedSketch:
		return "NOISED_SKETCH"
	case ArtifactConcatenatedSketch:
		return "CONCATENATED_SKETCH"
	case ArtifactFlagsAndCounts:
		return "ENCRYPTED_FLAGS_AND_COUNTS"
	default:
		return "UNKNOWN_ARTIFACT"
	}
}

// StageClass is the verdict on an inbound artifact given the computation's
// current stage.
type StageClass uint32

const (
	// ClassInvalid marks a protocol violation: the artifact is neither
	// expected now nor already consumed.
	ClassInvalid StageClass = iota
	// ClassExpected means the current stage is waiting on this artifact.
	ClassExpected
	// ClassDownstream means the artifact was already consumed in an earlier
	// stage; the delivery is acked without writing anything.
	ClassDownstream
)

// receivingStage is the single stage in which each artifact kind is awaited.
var receivingStage = map[ArtifactKind]Stage{
	ArtifactNoisedSketch:       StageWaitSketches,
	ArtifactConcatenatedSketch: StageWaitConcatenated,
	ArtifactFlagsAndCounts:     StageWaitFlagCounts,
}

// downstreamStages are the stages reachable after an artifact's receiving
// stage, for either role. A duplicate delivery observed in one of these is
// benign.
var downstreamStages = map[ArtifactKind][]Stage{
	ArtifactNoisedSketch: {
		StageToAppendSketchesAndAddNoise,
		StageWaitConcatenated,
	},
	ArtifactConcatenatedSketch: {
		StageToBlindPositions,
		StageToBlindPositionsAndJoinRegisters,
		StageWaitFlagCounts,
	},
	ArtifactFlagsAndCounts: {
		StageToDecryptFlagCounts,
		StageToDecryptFlagCountsAndComputeMetrics,
		StageCompleted,
	},
}

// nextStage is the stage a computation moves to once the receiving stage of
// an artifact kind has all its slots filled, branched on the duchy's role.
var nextStage = map[ArtifactKind]map[Role]Stage{
	ArtifactNoisedSketch: {
		RolePrimary:   StageToAppendSketchesAndAddNoise,
		RoleSecondary: StageToAppendSketchesAndAddNoise,
	},
	ArtifactConcatenatedSketch: {
		RolePrimary:   StageToBlindPositionsAndJoinRegisters,
		RoleSecondary: StageToBlindPositions,
	},
	ArtifactFlagsAndCounts: {
		RolePrimary:   StageToDecryptFlagCountsAndComputeMetrics,
		RoleSecondary: StageToDecryptFlagCounts,
	},
}

// ClassifyStage says what to do with an artifact of the given kind arriving
// while the computation sits in the given stage.
func ClassifyStage(kind ArtifactKind, stage Stage) StageClass {
	if receivingStage[kind] == stage {
		return ClassExpected
	}
	for _, s := range downstreamStages[kind] {
		if s == stage {
			return ClassDownstream
		}
	}
	return ClassInvalid
}

// NextStage returns the stage to transition to once the fan-in for the given
// artifact kind completes.
func NextStage(kind ArtifactKind, role Role) (Stage, error) {
	byRole, ok := nextStage[kind]
	if !ok {
		return StageUnknown, ErrUnknownArtifact
	}
	next, ok := byRole[role]
	if !ok {
		return StageUnknown, ErrUnknownRole
	}
	return next, nil
}
