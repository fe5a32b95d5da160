package api

import "time"

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type AddSlotRequest struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
