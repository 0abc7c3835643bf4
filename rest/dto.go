package rest

type RefreshTokenDTO struct {
	RefreshToken string `json:"refresh_token"`
}

type GoogleAuthDTO struct {
	IDToken string `json:"id_token"`
}

type LoginDTO struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LogoutDTO struct {
	All bool `json:"all"`
}

type tokenPairResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type googleUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	GoogleID    string `json:"google_id"`
}

type googleAuthResponse struct {
	Token        string     `json:"token"`
	RefreshToken string     `json:"refresh_token"`
	User         googleUser `json:"user"`
	Message      string     `json:"message"`
}

type googleUserInfoResponse struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	GoogleID    string `json:"google_id"`
	GoogleEmail string `json:"google_email"`
	Linked      bool   `json:"linked"`
}

type loginUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type loginResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	User         loginUser `json:"user"`
}

type logoutResponse struct {
	Message       string `json:"message"`
	Tokens        int    `json:"tokens"`
	RefreshTokens int    `json:"refresh_tokens"`
}
