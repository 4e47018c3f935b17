package model

type ChatRequest struct {
	Message string `json:"message" binding:"required"`
	Model   string `json:"model"`
}

type ConfirmRequest struct {
	Answer string `json:"answer" binding:"required"`
}

type CreateSessionRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

type UpdateTitleRequest struct {
	Title string `json:"title" binding:"required"`
}
