package model

// TransactionKind identifies which user operation a transaction serves.
type TransactionKind string

const (
	KindGoto     TransactionKind = "GOTO"
	KindSwitchTF TransactionKind = "SWITCH_TF"
	KindSkip     TransactionKind = "SKIP"
	KindAutoplay TransactionKind = "AUTOPLAY_TICK"
)

// TransactionPhase is a transaction's current position in the 5-phase
// protocol, plus the two terminal outcomes.
type TransactionPhase string

const (
	PhasePre        TransactionPhase = "PRE"
	PhaseDestruct   TransactionPhase = "DESTRUCT"
	PhaseLoad       TransactionPhase = "LOAD"
	PhaseCommit     TransactionPhase = "COMMIT"
	PhaseBroadcast  TransactionPhase = "BROADCAST"
	PhaseDone       TransactionPhase = "DONE"
	PhaseRolledBack TransactionPhase = "ROLLED_BACK"
)

// TransitionTransaction tracks one state-changing request end to end; it is
// created on entry and closed (DONE or ROLLED_BACK) before the request
// returns. Never persisted past a single request.
type TransitionTransaction struct {
	ID            string
	Kind          TransactionKind
	FromTF        string
	ToTF          string
	RequestedTime int64
	Phase         TransactionPhase
}

// ContaminationLevel buckets a timeframe's accumulated skip count.
type ContaminationLevel string

const (
	ContaminationClean    ContaminationLevel = "CLEAN"
	ContaminationLight    ContaminationLevel = "LIGHT"
	ContaminationModerate ContaminationLevel = "MODERATE"
	ContaminationHeavy    ContaminationLevel = "HEAVY"
)

// Contamination classifies a skip count into its bucket: CLEAN(0),
// LIGHT(<=2), MODERATE(<=5), HEAVY(>5).
func Contamination(count int) ContaminationLevel {
	switch {
	case count <= 0:
		return ContaminationClean
	case count <= 2:
		return ContaminationLight
	case count <= 5:
		return ContaminationModerate
	default:
		return ContaminationHeavy
	}
}
