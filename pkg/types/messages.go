package types

type MessageRequest struct {
	Identity string `json:"identity"`
	Text     string `json:"text"`
}

type MessageResponse struct {
	Reply string `json:"reply"`
}

type SessionView struct {
	Identity       string   `json:"identity"`
	Context        string   `json:"context"`
	LastCommand    string   `json:"last_command,omitempty"`
	ItemRefs       []string `json:"item_refs,omitempty"`
	HistoryLen     int      `json:"history_len"`
	CreatedAt      string   `json:"created_at"`
	LastActivityAt string   `json:"last_activity_at"`
}

type SessionsResponse struct {
	WindowMinutes int           `json:"window_minutes"`
	Sessions      []SessionView `json:"sessions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
