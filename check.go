package zync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jpalmerr/zync/internal/deployer"
	"github.com/jpalmerr/zync/internal/token"
)

var (
	// ErrInvalidSecret means the deployer rejected the token signature.
	ErrInvalidSecret = errors.New("the deployer rejected the token: the shared secret differs")

	// ErrNotAdmin means the deployer accepted the token but not its role.
	ErrNotAdmin = errors.New("the deployer rejected the token: admin role required")
)

// CheckConfig verifies that the deployer accepts the admin token built from
// opts. With [WithSigningSecret] it checks that the deployer shares the
// secret; otherwise it checks the token the platform issues.
//
// Returns nil on success, [ErrInvalidSecret] or [ErrNotAdmin] when the
// deployer refuses the token, or the underlying error.
func CheckConfig(ctx context.Context, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	platform, err := cfg.newPlatform()
	if err != nil {
		return err
	}
	deployers, err := newResolver(cfg, platform)
	if err != nil {
		return err
	}
	defer deployers.close()

	var tok string
	switch {
	case cfg.signingSecret != "":
		signer, err := token.NewSigner(cfg.signingSecret, cfg.tokenTTL)
		if err != nil {
			return err
		}
		if tok, err = signer.Admin("", ""); err != nil {
			return err
		}
	case cfg.tokenFunc != nil:
		if tok, err = cfg.tokenFunc(ctx, adminKey); err != nil {
			return fmt.Errorf("admin token: %w", err)
		}
	case platform != nil:
		at, err := platform.AdminToken(ctx)
		if err != nil {
			return err
		}
		if err := deployers.use(at.APIURL); err != nil {
			return err
		}
		tok = at.Token
	default:
		return ErrNoPlatform
	}

	client, err := deployers.get(ctx)
	if err != nil {
		return err
	}

	err = client.ConfigCheck(ctx, tok)
	var (
		authErr   *deployer.AuthError
		clientErr *deployer.ClientError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &authErr):
		return ErrInvalidSecret
	case errors.As(err, &clientErr) && clientErr.StatusCode == 403:
		return ErrNotAdmin
	default:
		return fmt.Errorf("config check: %w", err)
	}
}
