package router

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/davidahmann/relia-bot/internal/approval"
)

var (
	ErrAmbiguousAction = errors.New("message matches both approve and reject")
	ErrNoAction        = errors.New("message has no approve or reject keyword")
	ErrNoOrdinal       = errors.New("message has no item number")
	ErrBadQuantity     = errors.New("override quantity must be a positive number")
)

var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

type Decision struct {
	Action   approval.Action
	Ordinal  int
	Quantity *float64
	Reason   string
}

// ParseDecision extracts an approve or reject command. The first number is
// the item ordinal; for approvals a second number overrides the quantity, for
// rejections the raw text after the ordinal is the reason.
func ParseDecision(raw, normalized string) (Decision, error) {
	isApprove := approveRe.MatchString(normalized)
	isReject := rejectRe.MatchString(normalized)
	var d Decision
	switch {
	case isApprove && isReject:
		return Decision{}, ErrAmbiguousAction
	case isApprove:
		d.Action = approval.ActionApprove
	case isReject:
		d.Action = approval.ActionReject
	default:
		return Decision{}, ErrNoAction
	}

	numbers := numberRe.FindAllString(normalized, 2)
	if len(numbers) == 0 {
		return Decision{}, ErrNoOrdinal
	}
	ordinal, err := strconv.Atoi(numbers[0])
	if err != nil || ordinal < 1 {
		return Decision{}, ErrNoOrdinal
	}
	d.Ordinal = ordinal

	switch d.Action {
	case approval.ActionApprove:
		if len(numbers) > 1 {
			q, err := strconv.ParseFloat(numbers[1], 64)
			if err != nil || q <= 0 {
				return Decision{}, ErrBadQuantity
			}
			d.Quantity = &q
		}
	case approval.ActionReject:
		d.Reason = reasonAfterOrdinal(raw)
	}
	return d, nil
}

// reasonAfterOrdinal returns the caller's original text following the first
// number, keeping its case and accents.
func reasonAfterOrdinal(raw string) string {
	loc := numberRe.FindStringIndex(raw)
	if loc == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimLeft(raw[loc[1]:], " :-,."))
}
