package status

// StepState is how a timeline step renders for a given status.
type StepState string

const (
	StepDone     StepState = "done"
	StepCurrent  StepState = "current"
	StepPending  StepState = "pending"
	StepApproved StepState = "approved"
	StepRejected StepState = "rejected"
)

type Step struct {
	Position    int       `json:"position"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	State       StepState `json:"state"`
}

var steps = []Step{
	{Position: 0, Label: "Submitted", Description: "Script received"},
	{Position: 1, Label: "Analysis", Description: "Initial analysis"},
	{Position: 2, Label: "Review", Description: "Detailed review"},
	{Position: 3, Label: "Approval", Description: "Final vote"},
	{Position: 4, Label: "Finalized", Description: "Process complete"},
}

// Timeline projects s onto the five fixed steps.
func Timeline(s Status) []Step {
	cur := s.Position()
	out := make([]Step, len(steps))
	for i, st := range steps {
		switch {
		case i == MaxPosition && s == Approved:
			st.State = StepApproved
			st.Label = "Approved"
		case i == MaxPosition && s == Rejected:
			st.State = StepRejected
			st.Label = "Rejected"
		case i < cur:
			st.State = StepDone
		case i == cur:
			st.State = StepCurrent
		default:
			st.State = StepPending
		}
		out[i] = st
	}
	return out
}
