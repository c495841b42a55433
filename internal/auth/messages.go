package auth

import (
	"fmt"
	"time"

	"github.com/elskow/folio-auth/internal/mailer"
)

func loginCodeMessage(to, code string, ttl time.Duration) mailer.Message {
	return mailer.Message{
		To:      to,
		Subject: "Your sign-in code",
		Body: fmt.Sprintf(
			"Your sign-in verification code is %s.\n\nIt expires in %d minutes. If you did not try to sign in, you can ignore this email and consider changing your password.\n",
			code, int(ttl.Minutes()),
		),
	}
}

func resetCodeMessage(to, code string, ttl time.Duration) mailer.Message {
	return mailer.Message{
		To:      to,
		Subject: "Reset your password",
		Body: fmt.Sprintf(
			"Use the code %s to reset your password.\n\nIt expires in %d minutes. If you did not request a password reset, no action is needed.\n",
			code, int(ttl.Minutes()),
		),
	}
}
