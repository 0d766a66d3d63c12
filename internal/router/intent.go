package router

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/davidahmann/relia-bot/internal/session"
)

type Intent string

const (
	IntentMenu        Intent = "MENU"
	IntentHelp        Intent = "HELP"
	IntentCancel      Intent = "CANCEL"
	IntentDecision    Intent = "DECISION"
	IntentItemDetail  Intent = "ITEM_DETAIL"
	IntentPendingList Intent = "PENDING_LIST"
	IntentStats       Intent = "STATS"
	IntentSendMessage Intent = "SEND_MESSAGE"
	IntentFallback    Intent = "FALLBACK"
)

var (
	menuWords    = wordSet("menu", "hi", "hello", "hey", "start", "home")
	helpWords    = wordSet("help", "?")
	cancelWords  = wordSet("cancel", "exit", "quit", "bye", "stop")
	refreshWords = wordSet("refresh", "again", "update", "r")

	menuChoices = map[string]Intent{
		"1": IntentPendingList, "pending": IntentPendingList, "list": IntentPendingList, "requests": IntentPendingList,
		"2": IntentStats, "stats": IntentStats, "statistics": IntentStats,
		"3": IntentSendMessage, "message": IntentSendMessage, "send": IntentSendMessage,
		"4": IntentHelp,
	}

	approveRe     = regexp.MustCompile(`\b(approve|approved|accept)\b`)
	rejectRe      = regexp.MustCompile(`\b(reject|rejected|decline|deny)\b`)
	bareIntegerRe = regexp.MustCompile(`^\d+$`)
)

func wordSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

// bare trims surrounding punctuation so "hi!" and "menu." still match.
func bare(normalized string) string {
	return strings.Trim(normalized, " .,!;:")
}

// Classify maps a normalized message to an intent. Global intents are checked
// first, then intents local to ctx, then the numbered menu.
func Classify(ctx session.Context, normalized string) Intent {
	word := bare(normalized)
	if _, ok := menuWords[word]; ok {
		return IntentMenu
	}
	if _, ok := helpWords[word]; ok {
		return IntentHelp
	}
	if _, ok := cancelWords[word]; ok {
		return IntentCancel
	}
	if approveRe.MatchString(normalized) || rejectRe.MatchString(normalized) {
		return IntentDecision
	}

	switch ctx {
	case session.ContextPendingList:
		if n, ok := positiveInt(word); ok && n > 0 {
			return IntentItemDetail
		}
	case session.ContextStats:
		if _, ok := refreshWords[word]; ok {
			return IntentStats
		}
	}

	if intent, ok := menuChoices[word]; ok {
		return intent
	}
	return IntentFallback
}

func positiveInt(word string) (int, bool) {
	if !bareIntegerRe.MatchString(word) {
		return 0, false
	}
	n, err := strconv.Atoi(word)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
