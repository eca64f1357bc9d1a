package repository

import "time"

// VerificationCode es un OTP vivo para un identifier. A lo sumo uno por identifier.
type VerificationCode struct {
	Identifier string
	Code       string
	ExpiresAt  time.Time
	// Extended indica que el vencimiento ya se extendió una vez (paso de alta con nombre).
	Extended  bool
	CreatedAt time.Time
}

// TenantCodeIdentifier es el identifier tenant-scoped de un OTP.
func TenantCodeIdentifier(tenantID, email string) string {
	return "tenant:" + tenantID + ":email:" + NormalizeEmail(email)
}

// FinderCodeIdentifier es el identifier sin tenant del buscador de workspaces.
func FinderCodeIdentifier(email string) string {
	return "email:" + NormalizeEmail(email)
}

// TransferToken entrega una sesión autenticada a otro origen. Single-use, ≤60s.
type TransferToken struct {
	Token        string
	UserID       string
	TenantID     string
	TargetDomain string
	CallbackPath string
	Context      AuthContext
	ExpiresAt    time.Time
	CreatedAt    time.Time
}
