package router

import (
	"fmt"
	"strings"

	"github.com/davidahmann/relia-bot/internal/approval"
	"github.com/davidahmann/relia-bot/internal/ledger"
)

const (
	helpText = "ℹ️ How to use this bot:\n" +
		"• 1 or \"pending\" shows requests waiting for a decision\n" +
		"• 2 or \"stats\" shows request statistics\n" +
		"• From the list, send a number to see details\n" +
		"• \"approve 2\" approves item 2 as requested, \"approve 2 90\" approves it with 90\n" +
		"• \"reject 2 reason\" rejects item 2\n" +
		"• \"menu\" returns here, \"cancel\" ends the conversation"
	farewellText    = "👋 Bye! Send any message to start again."
	sendMessageText = "✉️ Sending messages from this chat is not available yet."
	retryText       = "⚠️ Something went wrong while saving. Please try again."
	notUnderstood   = "🤔 I didn't understand that."
)

func menuText(pending int) string {
	var b strings.Builder
	b.WriteString("📋 Main menu\n")
	switch pending {
	case 0:
		b.WriteString("No requests are waiting for you.\n\n")
	case 1:
		b.WriteString("1 request is waiting for you.\n\n")
	default:
		fmt.Fprintf(&b, "%d requests are waiting for you.\n\n", pending)
	}
	b.WriteString("1️⃣ Pending requests\n")
	b.WriteString("2️⃣ Statistics\n")
	b.WriteString("3️⃣ Send a message\n")
	b.WriteString("4️⃣ Help")
	return b.String()
}

func keycap(n int) string {
	switch {
	case n >= 1 && n <= 9:
		return fmt.Sprintf("%d\ufe0f\u20e3", n)
	case n == 10:
		return "🔟"
	default:
		return fmt.Sprintf("%d.", n)
	}
}

func pendingListText(recs []ledger.RequestRecord) string {
	if len(recs) == 0 {
		return "✅ No pending requests.\nSend \"menu\" to go back."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⏳ Pending requests (%d):\n", len(recs))
	for i, rec := range recs {
		fmt.Fprintf(&b, "%s %s: %s (%s)\n", keycap(i+1), requesterName(rec), subjectLine(rec), approval.FormatQuantity(rec.RequestedQuantity))
	}
	b.WriteString("\nSend a number for details, or \"approve N\" / \"reject N reason\".")
	return b.String()
}

func detailText(ordinal int, rec ledger.RequestRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", keycap(ordinal), subjectLine(rec))
	fmt.Fprintf(&b, "Requested by: %s\n", requesterName(rec))
	fmt.Fprintf(&b, "Quantity: %s\n", approval.FormatQuantity(rec.RequestedQuantity))
	fmt.Fprintf(&b, "Created: %s\n", shortTime(rec.CreatedAt))
	if rec.Status == ledger.RequestPending {
		fmt.Fprintf(&b, "\nReply \"approve %d\", \"approve %d <quantity>\" or \"reject %d <reason>\".", ordinal, ordinal, ordinal)
		return b.String()
	}
	fmt.Fprintf(&b, "Status: %s", rec.Status)
	if rec.DecidedByName != nil && *rec.DecidedByName != "" {
		fmt.Fprintf(&b, " by %s", *rec.DecidedByName)
	}
	return b.String()
}

func statsText(s approval.Stats) string {
	var b strings.Builder
	b.WriteString("📊 Request statistics\n")
	fmt.Fprintf(&b, "Total: %d\n", s.Total())
	fmt.Fprintf(&b, "⏳ Pending: %d\n", s.Pending)
	fmt.Fprintf(&b, "✅ Approved: %d\n", s.Approved)
	fmt.Fprintf(&b, "✏️ Approved with changes: %d\n", s.Modified)
	fmt.Fprintf(&b, "❌ Rejected: %d\n", s.Rejected)
	fmt.Fprintf(&b, "Approved quantity: %s\n", approval.FormatQuantity(s.ApprovedQuantity))
	b.WriteString("\nSend \"refresh\" to update or \"menu\" to go back.")
	return b.String()
}

func notFoundText(ordinal int) string {
	return fmt.Sprintf("🔍 Item %d was not found. Send 1 to refresh the pending list.", ordinal)
}

func usageText(err error) string {
	switch err {
	case ErrAmbiguousAction:
		return "⚠️ Please either approve or reject, not both.\nExample: \"approve 2\" or \"reject 2 over budget\"."
	case ErrNoOrdinal:
		return "⚠️ Which item? Include its number from the list.\nExample: \"approve 2\" or \"reject 2 over budget\"."
	case ErrBadQuantity:
		return "⚠️ The quantity must be a positive number. Nothing was changed.\nExample: \"approve 2 40\"."
	default:
		return "⚠️ Use \"approve N\", \"approve N quantity\" or \"reject N reason\"."
	}
}

func requesterName(rec ledger.RequestRecord) string {
	if rec.RequestedByName != "" {
		return rec.RequestedByName
	}
	return rec.RequestedBy
}

func subjectLine(rec ledger.RequestRecord) string {
	if rec.SubjectLabel != "" {
		return rec.Subject + " · " + rec.SubjectLabel
	}
	return rec.Subject
}

func shortTime(ts string) string {
	t, err := ledger.ParseTime(ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04")
}
