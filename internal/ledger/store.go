package ledger

import (
	"errors"
	"time"
)

// ErrStatusConflict is returned by Tx.TransitionRequest when the request is no
// longer in the expected status at write time.
var ErrStatusConflict = errors.New("request status changed")

const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestModified = "modified"
	RequestRejected = "rejected"

	WorkItemPending = "pending"
	WorkItemActive  = "active"

	NoticePending = "pending"
	NoticeSent    = "sent"
)

// TimeLayout is fixed-width so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

type Store interface {
	WithTx(fn func(Tx) error) error

	PutSession(rec SessionRecord) error
	GetSession(identity string) (SessionRecord, bool, error)
	DeleteSession(identity string) error
	ListSessionsActiveSince(since string) ([]SessionRecord, error)

	PutRequest(rec RequestRecord) error
	GetRequest(requestID string) (RequestRecord, bool, error)
	ListRequests(status string, limit int) ([]RequestRecord, error)
	RequestStats() (RequestStats, error)

	PutWorkItem(rec WorkItemRecord) error
	GetWorkItem(workItemID string) (WorkItemRecord, bool, error)

	PutNotice(rec NoticeRecord) error
	GetNotice(noticeID string) (NoticeRecord, bool, error)
	ListNoticesDue(now string, limit int) ([]NoticeRecord, error)
}

type Tx interface {
	PutRequest(rec RequestRecord) error
	GetRequest(requestID string) (RequestRecord, bool, error)
	// TransitionRequest moves a request out of RequestPending. It returns
	// ErrStatusConflict when the stored status is no longer pending.
	TransitionRequest(tr RequestTransition) error

	PutWorkItem(rec WorkItemRecord) error
	GetWorkItem(workItemID string) (WorkItemRecord, bool, error)
	DeleteWorkItem(workItemID string) error

	PutNotice(rec NoticeRecord) error
}

type SessionRecord struct {
	Identity       string
	Context        string
	BodyJSON       []byte
	CreatedAt      string
	LastActivityAt string
}

type RequestRecord struct {
	RequestID         string
	WorkItemID        string
	Status            string // pending | approved | modified | rejected
	RequestedQuantity float64
	FinalQuantity     *float64
	RequestedBy       string
	RequestedByName   string
	Subject           string
	SubjectLabel      string
	DecidedBy         *string
	DecidedByName     *string
	DecidedAt         *string
	RejectionReason   *string
	CreatedAt         string
	UpdatedAt         string
}

type RequestTransition struct {
	RequestID       string
	Status          string
	DecidedBy       string
	DecidedByName   string
	DecidedAt       string
	FinalQuantity   *float64
	RejectionReason *string
}

type WorkItemRecord struct {
	WorkItemID       string
	RequestID        string
	Status           string // pending | active
	Title            string
	ApprovedQuantity *float64
	CreatedAt        string
	UpdatedAt        string
}

type NoticeRecord struct {
	NoticeID      string
	To            string
	Message       string
	RequestID     string
	WorkItemID    string
	Status        string // pending | sent
	AttemptCount  int
	NextAttemptAt string
	LastError     *string
	SentAt        *string
	CreatedAt     string
	UpdatedAt     string
}

type RequestStats struct {
	Counts           map[string]int
	ApprovedQuantity float64
}

func (s RequestStats) Total() int {
	total := 0
	for _, n := range s.Counts {
		total += n
	}
	return total
}
