package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"lti-booking/internal/api/router"
	"lti-booking/internal/config"
	"lti-booking/internal/domain/booking"
	"lti-booking/internal/infrastructure/session"
	"lti-booking/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	sessionUser         string
	sessionName         string
	sessionRoles        string
	sessionCourse       string
	sessionDomain       string
	sessionAccessToken  string
	sessionRefreshToken string
	sessionTokenTTL     time.Duration
)

// sessionCmd stands in for an LTI launch during development and load tests.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Mint a session token for a user in a course",
	Long: `Sign a session token the API accepts as a Bearer token. Roles take the
LTI roles format (e.g. "Learner" or "Instructor,urn:lti:instrole:ims/lis/Administrator").
With --lms-access-token the user's LMS OAuth token is stored as well, so
group lookups and notifications can act on their behalf.`,
	Run: func(cmd *cobra.Command, args []string) {
		mintSession()
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)

	sessionCmd.Flags().StringVar(&sessionUser, "user", "", "LMS user id")
	sessionCmd.Flags().StringVar(&sessionName, "name", "", "Display name")
	sessionCmd.Flags().StringVar(&sessionRoles, "roles", "Learner", "LTI roles")
	sessionCmd.Flags().StringVar(&sessionCourse, "course", "", "LMS course id")
	sessionCmd.Flags().StringVar(&sessionDomain, "domain", "", "LMS domain the OAuth token belongs to")
	sessionCmd.Flags().StringVar(&sessionAccessToken, "lms-access-token", "", "LMS OAuth access token to store for the user")
	sessionCmd.Flags().StringVar(&sessionRefreshToken, "lms-refresh-token", "", "LMS OAuth refresh token to store for the user")
	sessionCmd.Flags().DurationVar(&sessionTokenTTL, "lms-token-ttl", time.Hour, "Lifetime of the stored access token")
	sessionCmd.MarkFlagRequired("user")
	sessionCmd.MarkFlagRequired("course")
}

func mintSession() {
	cfg := config.Get()

	actor := booking.Actor{
		UserID:      sessionUser,
		Name:        sessionName,
		Roles:       booking.ParseLTIRoles(sessionRoles),
		LMSCourseID: sessionCourse,
		Domain:      sessionDomain,
	}
	if actor.Name == "" {
		actor.Name = "User " + actor.UserID
	}
	if actor.Roles == 0 {
		logger.Warn("No known LTI role in %q; the session can neither book nor manage", sessionRoles)
	}

	signer, err := session.NewSigner(cfg.Session.Secret, cfg.Session.Issuer, cfg.Session.TTLDuration())
	if err != nil {
		logger.Error("Failed to create session signer: %v", err)
		os.Exit(1)
	}

	token, expires, err := signer.Issue(actor)
	if err != nil {
		logger.Error("Failed to issue session: %v", err)
		os.Exit(1)
	}

	if sessionAccessToken != "" {
		if err := storeLMSToken(cfg, actor); err != nil {
			logger.Error("Failed to store LMS token: %v", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Stored LMS token for user %s on %q\n", actor.UserID, actor.Domain)
	}

	fmt.Fprintf(os.Stderr, "Session for %s (%s) in course %s, expires %s\n",
		actor.UserID, actor.Roles, actor.LMSCourseID, expires.Format(time.RFC3339))
	fmt.Println(token)
}

func storeLMSToken(cfg *config.Config, actor booking.Actor) error {
	if cfg.Database.Driver == "memory" {
		return fmt.Errorf("the memory driver does not outlive this command")
	}

	stack, err := router.BuildStack(cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	expires := time.Now().Add(sessionTokenTTL)
	return stack.Tokens.Store(context.Background(), &booking.CachedToken{
		UserID:       actor.UserID,
		Domain:       actor.Domain,
		AccessToken:  sessionAccessToken,
		RefreshToken: sessionRefreshToken,
		ExpiresAt:    &expires,
	})
}
