package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/service"

	"github.com/spf13/cobra"
)

type TokenOptions struct {
	*RootOptions
	UserID int64
	TTL    time.Duration
	Secret string
}

// NewTokenCommand issues a bearer token for support and testing.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "token",
		Short:         "Issue a bearer token for a user",
		Example:       `  economyctl token --user 42 --ttl 1h`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "user id (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "signing secret (default: $JWT_SECRET)")

	return cmd
}

func runToken(opts *TokenOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if opts.UserID <= 0 {
		return f.Fail(ExitCommandError, string(domain.CodeInvalidInput), "--user must be positive")
	}
	secret := opts.Secret
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if err := service.InitJWT(secret); err != nil {
		return f.Fail(ExitCommandError, "CONFIG", err.Error())
	}
	token, err := service.GenerateJWT(opts.UserID, opts.TTL)
	if err != nil {
		return f.Fail(ExitCommandError, "ERROR", err.Error())
	}
	return f.Success(map[string]any{
		"user_id":    opts.UserID,
		"token":      token,
		"expires_in": int64(opts.TTL.Seconds()),
	}, token)
}

type UserOptions struct {
	*RootOptions
	Username string
	Dinar    int64
}

// NewUserCommand creates accounts for local testing. Identity normally
// comes from the upstream auth service.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UserOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "user-create",
		Short:         "Create a user, optionally funded through the ledger",
		Example:       `  economyctl user-create --username tester --dinar 500`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Username, "username", "", "username (required)")
	_ = cmd.MarkFlagRequired("username")
	cmd.Flags().Int64Var(&opts.Dinar, "dinar", 0, "initial dinar top up")

	return cmd
}

func runUserCreate(ctx context.Context, opts *UserOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)
	svc, closeFn, err := opts.services(ctx, f)
	if err != nil {
		return err
	}
	defer closeFn()

	u := &domain.User{Username: opts.Username}
	if err := svc.Store.Users().Create(ctx, u); err != nil {
		return economyFail(f, err)
	}
	if opts.Dinar > 0 {
		funded, err := svc.Wallet.TopUp(ctx, u.ID, opts.Dinar, domain.CurrencyDinar, "economyctl")
		if err != nil {
			return economyFail(f, err)
		}
		u = funded
		svc.Audit.LogBalanceChange(ctx, u.ID, opts.Dinar, domain.CurrencyDinar, "economyctl")
	}
	return f.Success(u, fmt.Sprintf("✓ user %d created (%s), %d dinar", u.ID, u.Username, u.Wallet.Dinar))
}
