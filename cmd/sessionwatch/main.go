// Command sessionwatch signs in to folio-auth and shows how long the
// session has left, warning in the last minutes and signing out at zero.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/elskow/folio-auth/internal/api"
	"github.com/elskow/folio-auth/internal/authclient"
	"github.com/elskow/folio-auth/internal/server"
	"github.com/elskow/folio-auth/internal/session"
)

func main() {
	baseURL := flag.String("server", "http://localhost:8080", "folio-auth base URL")
	email := flag.String("email", "", "account email; omit to resume the stored session")
	sessionFile := flag.String("session-file", "", "where tokens are kept (default: user config dir)")
	logoutAll := flag.Bool("logout-all", false, "revoke every session of the stored account and exit")
	verbose := flag.Bool("v", false, "log session events to stderr")
	flag.Parse()

	log := zap.NewNop()
	if *verbose {
		var err error
		if log, err = server.NewLogger(server.EnvDevelopment); err != nil {
			panic(err)
		}
		defer log.Sync()
	}

	if err := run(log, *baseURL, *email, *sessionFile, *logoutAll); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(log *zap.Logger, baseURL, email, sessionFile string, logoutAll bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	if sessionFile == "" {
		if sessionFile, err = session.DefaultPath(); err != nil {
			return err
		}
	}

	expired := make(chan struct{})
	manager := session.NewManager(session.NewFileStore(sessionFile), log,
		session.WithOnExpire(func() { close(expired) }))
	client := authclient.New(baseURL, nil)
	in := bufio.NewReader(os.Stdin)

	resumed, err := manager.Restore()
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}

	if logoutAll {
		tokens, ok := manager.Tokens()
		if !resumed || !ok {
			return errors.New("no stored session to log out")
		}
		if err := client.LogoutAll(ctx, tokens.AccessToken); err != nil {
			return err
		}
		fmt.Println("Signed out everywhere.")
		return manager.Logout()
	}

	if !resumed || email != "" {
		if email == "" {
			return errors.New("no stored session; pass -email to sign in")
		}
		if err := signIn(ctx, client, manager, in, email); err != nil {
			return err
		}
	}

	return watch(ctx, manager, expired)
}

// canRetryCode reports whether the challenge is still open after err.
// Wrong or malformed codes leave it open; every other failure ends it.
func canRetryCode(err error) bool {
	return authclient.IsCode(err, api.CodeInvalidCode, api.CodeValidation)
}

func signIn(ctx context.Context, client *authclient.Client, manager *session.Manager, in *bufio.Reader, email string) error {
	password, err := readPassword()
	if err != nil {
		return err
	}

	resp, err := client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if !resp.MFARequired {
		return manager.Login(resp.AccessToken, resp.RefreshToken)
	}

	for {
		prompt := "Code from your authenticator app: "
		if resp.MFAMethod == "email" {
			prompt = "Code sent to your email (or \"resend\"): "
		}
		fmt.Fprint(os.Stderr, prompt)
		line, err := in.ReadString('\n')
		if err != nil {
			return err
		}
		code := strings.TrimSpace(line)

		if code == "resend" && resp.MFAMethod == "email" {
			msg, err := client.ResendOTP(ctx, resp.TempToken)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				continue
			}
			fmt.Fprintln(os.Stderr, msg)
			continue
		}

		tokens, err := client.VerifyMFA(ctx, resp.TempToken, code, resp.MFAMethod)
		if err == nil {
			return manager.Login(tokens.AccessToken, tokens.RefreshToken)
		}

		if canRetryCode(err) {
			var apiErr *authclient.APIError
			if errors.As(err, &apiErr) {
				fmt.Fprintf(os.Stderr, "%s, try again.\n", apiErr.Message)
			}
			continue
		}
		return err
	}
}

func watch(ctx context.Context, manager *session.Manager, expired <-chan struct{}) error {
	ticker := time.NewTicker(session.DefaultTickInterval)
	defer ticker.Stop()

	warned := false
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-expired:
			fmt.Println("\rSession expired. You have been signed out.")
			return nil
		case <-ticker.C:
			remaining := session.FormatRemaining(manager.Remaining())
			if manager.Urgent() {
				if !warned {
					fmt.Println()
					warned = true
				}
				fmt.Printf("\rSession expires in %s - sign in again soon ", remaining)
				continue
			}
			fmt.Printf("\rSession expires in %s ", remaining)
		}
	}
}

func readPassword() (string, error) {
	if pw := os.Getenv("FOLIO_PASSWORD"); pw != "" {
		return pw, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("set FOLIO_PASSWORD when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	return string(pw), err
}
