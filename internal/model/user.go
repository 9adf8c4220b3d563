package model

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	PasswordHash    string `json:"-"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Role            string `json:"role"`
	EmailVerified   bool   `json:"email_verified"`
	EmailVerifiedAt *int64 `json:"email_verified_at,omitempty"`
	Ctime           int64  `json:"ctime"`
	Mtime           int64  `json:"mtime"`
}
