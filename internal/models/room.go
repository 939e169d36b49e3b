package models

// User is an entry in the user directory
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// MeetingStatus is the public view of a live meeting room
type MeetingStatus struct {
	MeetingID    string            `json:"meetingId"`
	Participants []ParticipantInfo `json:"participants"`
	Count        int               `json:"count"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}
