package controllers

type SubmitRequest struct {
	URL string `json:"url"`
}

type SelectRequest struct {
	VariantID string `json:"variant_id"`
}

type ReorderRequest struct {
	Position int `json:"position"`
}

type ConcurrencyRequest struct {
	Limit int `json:"limit"`
}

type QueueStatus struct {
	Limit   int `json:"limit"`
	Running int `json:"running"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
