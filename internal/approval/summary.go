package approval

import (
	"fmt"
	"strings"
)

// Summary is the confirmation relayed to the deciding user.
func (r Result) Summary() string {
	subject := r.subjectLine()
	switch r.Outcome {
	case OutcomeNotFound:
		return "⚠️ That request was already handled or is no longer valid."
	case OutcomeAlreadyDecided:
		var b strings.Builder
		fmt.Fprintf(&b, "ℹ️ %s was already handled", subject)
		if r.DecidedBy != "" {
			fmt.Fprintf(&b, " by %s", r.DecidedBy)
		}
		if !r.DecidedAt.IsZero() {
			fmt.Fprintf(&b, " at %s", r.DecidedAt.UTC().Format("2006-01-02 15:04"))
		}
		fmt.Fprintf(&b, " (%s).", r.Status)
		return b.String()
	}

	switch r.Action {
	case ActionReject:
		return fmt.Sprintf("❌ %s rejected by %s.\nReason: %s", subject, r.DecidedBy, r.Reason)
	default:
		if r.Modified {
			return fmt.Sprintf("✅ %s approved by %s with a change: %s (requested %s).",
				subject, r.DecidedBy, FormatQuantity(r.Quantity), FormatQuantity(r.RequestedQuantity))
		}
		return fmt.Sprintf("✅ %s approved by %s: %s.", subject, r.DecidedBy, FormatQuantity(r.Quantity))
	}
}

// NoticeText is the message queued for the original requester.
func (r Result) NoticeText() string {
	subject := r.subjectLine()
	switch {
	case r.Action == ActionReject:
		return fmt.Sprintf("Your request for %s was rejected by %s. Reason: %s", subject, r.DecidedBy, r.Reason)
	case r.Modified:
		return fmt.Sprintf("Your request for %s was approved by %s with a change: %s instead of %s.",
			subject, r.DecidedBy, FormatQuantity(r.Quantity), FormatQuantity(r.RequestedQuantity))
	default:
		return fmt.Sprintf("Your request for %s was approved by %s: %s.", subject, r.DecidedBy, FormatQuantity(r.Quantity))
	}
}

func (r Result) subjectLine() string {
	switch {
	case r.Subject != "" && r.SubjectLabel != "":
		return fmt.Sprintf("%s (%s)", r.Subject, r.SubjectLabel)
	case r.Subject != "":
		return r.Subject
	default:
		return "Request " + r.RequestID
	}
}
