package httpapi

// RegisterRequest creates a new account.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// LoginRequest exchanges credentials for an access token.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserPayload is the public view of an account.
type UserPayload struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// AuthResponse carries a freshly minted token and its owner.
type AuthResponse struct {
	AccessToken string      `json:"accessToken"`
	User        UserPayload `json:"user"`
}

// SubmitQuestionsRequest stores one screening form.
type SubmitQuestionsRequest struct {
	Answers     map[string]string `json:"answers"`
	FormVersion string            `json:"formVersion"`
	Tags        []string          `json:"tags"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
