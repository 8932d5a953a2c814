package workitem

// Stage represents one named step in the fixed pipeline order
type Stage string

const (
	StageIngest       Stage = "INGEST"        // Load and shape the source material
	StageResearch     Stage = "RESEARCH"      // Gather supporting references (catalog-assisted)
	StageTransform    Stage = "TRANSFORM"     // Main generation step
	StageElevate      Stage = "ELEVATE"       // Voice and structure rework of the transform output
	StageValidate     Stage = "VALIDATE"      // Fast deterministic rule checkpoint
	StageQualityAudit Stage = "QUALITY_AUDIT" // Slow graded semantic checkpoint
)

// Sequence returns the fixed stage order for every work item.
// A cached result is only trusted when it was produced under this sequence;
// there is no cross-stage reordering.
func Sequence() []Stage {
	return []Stage{
		StageIngest,
		StageResearch,
		StageTransform,
		StageElevate,
		StageValidate,
		StageQualityAudit,
	}
}

// String returns the string representation of the stage
func (s Stage) String() string {
	return string(s)
}

// IsValid returns true if the stage is part of the fixed sequence
func (s Stage) IsValid() bool {
	for _, st := range Sequence() {
		if st == s {
			return true
		}
	}
	return false
}

// Index returns the position of the stage in the sequence, or -1
func (s Stage) Index() int {
	for i, st := range Sequence() {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the following stage and true, or the zero Stage and false
// when s is the final stage
func (s Stage) Next() (Stage, bool) {
	idx := s.Index()
	if idx < 0 || idx+1 >= len(Sequence()) {
		return "", false
	}
	return Sequence()[idx+1], true
}

// IsFinal returns true for the last stage in the sequence
func (s Stage) IsFinal() bool {
	return s == StageQualityAudit
}

// IsFastGate returns true if the fast rule tier runs after this stage
func (s Stage) IsFastGate() bool {
	return s == StageValidate
}

// IsSlowGate returns true if the slow graded audit runs at this stage
func (s Stage) IsSlowGate() bool {
	return s == StageQualityAudit
}

// IsGate returns true if any quality gate tier applies to this stage
func (s Stage) IsGate() bool {
	return s.IsFastGate() || s.IsSlowGate()
}

// IsGenerative returns true for stages whose skill invocation produces new
// content (as opposed to checking existing content)
func (s Stage) IsGenerative() bool {
	switch s {
	case StageIngest, StageResearch, StageTransform, StageElevate:
		return true
	default:
		return false
	}
}

// ParseStage parses a string into a Stage. Unknown values return the zero
// Stage and false.
func ParseStage(s string) (Stage, bool) {
	st := Stage(s)
	if st.IsValid() {
		return st, true
	}
	return "", false
}
