package models

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

type AuthProvider string

const (
	AuthProviderLocal  AuthProvider = "local"
	AuthProviderGoogle AuthProvider = "google"
	AuthProviderGitHub AuthProvider = "github"
)

// User is an authenticated principal. Email is normalized to lowercase and
// is the identity share grants are addressed to. PasswordHash is empty for
// accounts created through an SSO provider.
type User struct {
	BaseModel
	Email        string       `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string       `json:"-" gorm:"type:text;not null;default:''"`
	DisplayName  string       `json:"displayName" gorm:"type:varchar(200);not null"`
	Role         UserRole     `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	AuthProvider AuthProvider `json:"authProvider" gorm:"type:varchar(20);not null;default:'local'"`
	AvatarURL    *string      `json:"avatarURL,omitempty" gorm:"type:text"`

	Nodes  []Node  `json:"-" gorm:"foreignKey:OwnerID"`
	Shares []Share `json:"-" gorm:"foreignKey:SharedByID"`
}
