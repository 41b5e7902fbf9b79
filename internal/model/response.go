package model

// SuccessResponse is the envelope for every successful API call.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}

// ErrorResponse is the envelope for every failed API call.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail carries a human-readable message and a stable machine code.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewErrorResponse builds an error envelope.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Message: message, Code: code}}
}
