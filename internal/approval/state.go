package approval

import "github.com/davidahmann/relia-bot/internal/ledger"

type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

func (a Action) Valid() bool {
	return a == ActionApprove || a == ActionReject
}

type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyDecided Outcome = "already_decided"
	OutcomeNotFound       Outcome = "not_found"
)

// TerminalStatus maps a decision to the request's terminal status.
func TerminalStatus(action Action, modified bool) string {
	switch action {
	case ActionReject:
		return ledger.RequestRejected
	case ActionApprove:
		if modified {
			return ledger.RequestModified
		}
		return ledger.RequestApproved
	default:
		return ""
	}
}

// NextWorkItemStep maps a decision to what happens to the linked work item.
func NextWorkItemStep(action Action) WorkItemStep {
	if action == ActionReject {
		return WorkItemDelete
	}
	return WorkItemActivate
}

type WorkItemStep string

const (
	WorkItemActivate WorkItemStep = "activate"
	WorkItemDelete   WorkItemStep = "delete"
)
