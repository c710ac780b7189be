package handler

type healthcheckResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

type receiveCAPResponse struct {
	Status    string `json:"status"`
	CAPID     string `json:"cap_id"`
	Timestamp string `json:"timestamp"`
}
