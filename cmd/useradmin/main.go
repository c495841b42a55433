// Command useradmin manages accounts directly against the database. There
// is no public sign-up, so this is how the site owner gets an account.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/elskow/folio-auth/internal/auth"
	"github.com/elskow/folio-auth/internal/database"
	"github.com/elskow/folio-auth/internal/mailer"
	"github.com/elskow/folio-auth/internal/server"
)

func main() {
	command := flag.String("command", "list", "command (create/list/delete/set-password/set-mfa)")
	email := flag.String("email", "", "account email")
	role := flag.String("role", string(auth.RoleUser), "role for create (user/admin)")
	mfa := flag.Bool("mfa", false, "enable MFA (create, set-mfa)")
	method := flag.String("method", string(auth.MFAMethodEmail), "MFA method for set-mfa (email/totp)")
	flag.Parse()

	if os.Getenv("APP_ENV") == "" {
		os.Setenv("APP_ENV", "development")
	}

	if err := run(*command, *email, *role, *method, *mfa); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command, email, role, method string, mfa bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	log, err := server.NewLogger(os.Getenv("APP_ENV"))
	if err != nil {
		return err
	}
	defer log.Sync()

	manager, err := database.NewManager(&cfg.Database, log)
	if err != nil {
		return err
	}
	defer manager.Close()

	// No command here sends mail; the dispatcher only satisfies the service.
	dispatcher := mailer.NewDispatcher(mailer.NewLogSender(log), cfg.Mail.Timeout, log)
	svc := auth.NewService(&cfg.Auth, log, auth.NewRepository(manager.DB()), dispatcher)
	admin := auth.Actor{Role: auth.RoleAdmin}

	switch command {
	case "list":
		users, err := svc.ListUsers(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tROLE\tMFA\tMETHOD")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", u.ID, u.Email, u.Role, u.MFAEnabled, u.MFAMethod)
		}
		return w.Flush()

	case "create":
		if email == "" {
			return errors.New("-email is required")
		}
		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}
		user, err := svc.CreateUser(ctx, auth.NewUser{
			Email:    email,
			Password: password,
			Role:     auth.Role(role),
			MFAOn:    mfa,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", user.Email, user.ID)

	case "delete":
		user, err := lookup(ctx, svc, email)
		if err != nil {
			return err
		}
		if err := svc.DeleteUser(ctx, user.ID); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", user.Email)

	case "set-password":
		user, err := lookup(ctx, svc, email)
		if err != nil {
			return err
		}
		password, err := readPassword("New password: ")
		if err != nil {
			return err
		}
		if err := svc.SetPassword(ctx, user.ID, password); err != nil {
			return err
		}
		fmt.Printf("password updated for %s; existing sessions revoked\n", user.Email)

	case "set-mfa":
		user, err := lookup(ctx, svc, email)
		if err != nil {
			return err
		}
		updated, err := svc.UpdateMFASettings(ctx, admin, user.ID, mfa, auth.MFAMethod(method))
		if err != nil {
			return err
		}
		fmt.Printf("%s: mfa=%t method=%s\n", updated.Email, updated.MFAEnabled, updated.MFAMethod)

	default:
		return fmt.Errorf("unknown command: %s", command)
	}

	log.Debug("useradmin finished", zap.String("command", command))
	return nil
}

func lookup(ctx context.Context, svc *auth.Service, email string) (*auth.User, error) {
	if email == "" {
		return nil, errors.New("-email is required")
	}
	user, err := svc.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", email, err)
	}
	return user, nil
}

// readPassword prefers FOLIO_USER_PASSWORD so the tool can be scripted.
func readPassword(prompt string) (string, error) {
	if pw := os.Getenv("FOLIO_USER_PASSWORD"); pw != "" {
		return pw, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("set FOLIO_USER_PASSWORD when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
