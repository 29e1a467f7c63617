package smppserver

import (
	"context"
	"log/slog"

	"github.com/thrillee/aegis-smpp/internal/auth"
	"github.com/thrillee/aegis-smpp/internal/session"
)

// StaticAuthenticator checks binds against a fixed system_id to password
// table. Passwords may be stored as bcrypt hashes.
type StaticAuthenticator map[string]string

func (a StaticAuthenticator) Authenticate(ctx context.Context, _ *session.Session, _ session.BindType, req session.BindParams) error {
	return a.Check(ctx, req.SystemID, req.Password)
}

// Check verifies one system_id and password pair.
func (a StaticAuthenticator) Check(ctx context.Context, systemID, password string) error {
	stored, ok := a[systemID]
	if !ok {
		slog.WarnContext(ctx, "Authentication failed: SystemID not found")
		return session.ErrUnknownSystemID
	}
	if !auth.CheckPassword(password, stored) {
		slog.WarnContext(ctx, "Authentication failed: Invalid password")
		return session.ErrInvalidPassword
	}
	return nil
}
