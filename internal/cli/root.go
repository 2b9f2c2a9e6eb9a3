// Package cli implements inquiryctl, a terminal client for slot inquiries.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/service0427/slot-inquiry/internal/middleware"
	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/notify"
	"github.com/service0427/slot-inquiry/internal/repository"
	"github.com/service0427/slot-inquiry/pkg/logger"
)

// EnvPrefix prefixes every environment override, e.g. INQUIRY_API_URL.
const EnvPrefix = "INQUIRY"

// Config keys shared by flags, env vars and the config file.
const (
	keyAPIURL    = "api-url"
	keyToken     = "token"
	keyJWTSecret = "jwt-secret"
	keyUser      = "user"
	keyRole      = "role"
	keyName      = "name"
	keyEmail     = "email"
	keyTimeout   = "timeout"
	keyTimezone  = "timezone"
	keyVerbose   = "verbose"
)

// Execute runs the root command with os.Args.
func Execute(version string) error {
	return NewRootCmd(version, viper.New()).Execute()
}

// NewRootCmd builds the command tree. Settings are resolved through v with
// precedence flags > env > config file > defaults.
func NewRootCmd(version string, v *viper.Viper) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "inquiryctl",
		Short:         "Read and answer slot inquiries",
		Long:          "inquiryctl lists inquiries, shows threads, sends messages and watches the unread badge.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v, configFile)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default $HOME/.inquiryctl.yaml)")
	flags.String(keyAPIURL, "http://localhost:8080", "Backend base URL")
	flags.String(keyToken, "", "Bearer token")
	flags.String(keyJWTSecret, "", "Sign a short-lived token locally instead of passing --token")
	flags.String(keyUser, "", "Acting user id")
	flags.String(keyRole, string(model.RoleUser), "Acting role (user or admin)")
	flags.String(keyName, "", "Display name sent with messages")
	flags.String(keyEmail, "", "Email sent with messages")
	flags.Duration(keyTimeout, 10*time.Second, "Per-request timeout")
	flags.String(keyTimezone, "Local", "Timezone used to print timestamps")
	flags.BoolP(keyVerbose, "v", false, "Log client activity to stderr")
	_ = v.BindPFlags(flags)

	cmd.AddCommand(
		newListCmd(v),
		newShowCmd(v),
		newSendCmd(v),
		newStatusCmd(v),
		newCloseCmd(v),
		newUnreadCmd(v),
		newTokenCmd(v),
	)
	return cmd
}

func loadConfig(v *viper.Viper, configFile string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(".inquiryctl")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && configFile == "" {
			return nil
		}
		return fmt.Errorf("failed to load config file: %w", err)
	}
	return nil
}

// session is everything a command needs to talk to the backend.
type session struct {
	actor model.Actor
	repo  *repository.Client
	bus   *notify.Bus
	log   *logger.Logger
	loc   *time.Location
	out   io.Writer
}

func newSession(cmd *cobra.Command, v *viper.Viper) (*session, error) {
	actor := model.Actor{
		UserID: v.GetString(keyUser),
		Role:   model.Role(v.GetString(keyRole)),
		Name:   v.GetString(keyName),
		Email:  v.GetString(keyEmail),
	}
	if actor.UserID == "" {
		return nil, fmt.Errorf("--%s is required", keyUser)
	}
	if !actor.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", actor.Role)
	}

	loc, err := time.LoadLocation(v.GetString(keyTimezone))
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}

	log := logger.Nop()
	if v.GetBool(keyVerbose) {
		if log, err = logger.NewDevelopment(); err != nil {
			return nil, err
		}
	}

	token := v.GetString(keyToken)
	if token == "" && v.GetString(keyJWTSecret) != "" {
		token, err = middleware.IssueToken(v.GetString(keyJWTSecret), actor, time.Hour)
		if err != nil {
			return nil, fmt.Errorf("sign token: %w", err)
		}
	}

	repo, err := repository.NewClient(repository.ClientConfig{
		BaseURL: v.GetString(keyAPIURL),
		Token:   token,
		Timeout: v.GetDuration(keyTimeout),
	}, log)
	if err != nil {
		return nil, err
	}

	return &session{
		actor: actor,
		repo:  repo,
		bus:   notify.NewBus(),
		log:   log,
		loc:   loc,
		out:   cmd.OutOrStdout(),
	}, nil
}
