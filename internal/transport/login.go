package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

// ErrAuthentication means the login collaborator could not produce an
// authenticated transport. It is fatal to session start; the engine never
// enters Running without a valid handle.
var ErrAuthentication = errors.New("authentication failed")

// Login negotiates the initial credential exchange when a login path is
// configured. The same success predicate used for OTP verification decides
// whether the login response looks authenticated; cookies land in the shared
// jar, so both transports of the pair come back authenticated.
func Login(ctx context.Context, t schemas.Transport, target schemas.Target, cred schemas.Credential, success schemas.SuccessPredicate, log *zap.Logger) error {
	if target.LoginPath == "" {
		log.Debug("No login path configured, skipping credential negotiation")
		return nil
	}

	resp, err := t.Send(ctx, &schemas.Request{
		Method: http.MethodPost,
		URL:    target.LoginURL(),
		Payload: map[string]string{
			"user_id":  cred.UserID,
			"password": cred.Password,
		},
	})
	if err != nil {
		return fmt.Errorf("login request failed: %w (%w)", err, ErrAuthentication)
	}
	if !success(resp) {
		return fmt.Errorf("login rejected with status %d: %w", resp.StatusCode, ErrAuthentication)
	}

	log.Info("Login negotiated", zap.String("user_id", cred.UserID), zap.Int("status", resp.StatusCode))
	return nil
}
