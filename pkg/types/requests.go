package types

type SubmitRequest struct {
	RequestID       string  `json:"request_id,omitempty"`
	Quantity        float64 `json:"quantity"`
	RequestedBy     string  `json:"requested_by"`
	RequestedByName string  `json:"requested_by_name,omitempty"`
	Subject         string  `json:"subject"`
	SubjectLabel    string  `json:"subject_label,omitempty"`
	Title           string  `json:"title,omitempty"`
}

type RequestView struct {
	RequestID         string   `json:"request_id"`
	WorkItemID        string   `json:"work_item_id"`
	Status            string   `json:"status"`
	RequestedQuantity float64  `json:"requested_quantity"`
	FinalQuantity     *float64 `json:"final_quantity,omitempty"`
	RequestedBy       string   `json:"requested_by"`
	RequestedByName   string   `json:"requested_by_name,omitempty"`
	Subject           string   `json:"subject"`
	SubjectLabel      string   `json:"subject_label,omitempty"`
	DecidedBy         *string  `json:"decided_by,omitempty"`
	DecidedAt         *string  `json:"decided_at,omitempty"`
	RejectionReason   *string  `json:"rejection_reason,omitempty"`
	CreatedAt         string   `json:"created_at"`
}

type DecisionRequest struct {
	Action    string   `json:"action"`
	Quantity  *float64 `json:"quantity,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Actor     string   `json:"actor,omitempty"`
	ActorName string   `json:"actor_name,omitempty"`
}

type DecisionResponse struct {
	Outcome   string  `json:"outcome"`
	RequestID string  `json:"request_id"`
	Status    string  `json:"status,omitempty"`
	Quantity  float64 `json:"quantity,omitempty"`
	Modified  bool    `json:"modified"`
	DecidedBy string  `json:"decided_by,omitempty"`
	DecidedAt string  `json:"decided_at,omitempty"`
	Summary   string  `json:"summary"`
}
