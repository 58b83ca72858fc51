package app

import (
	"database/sql"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"codeblue/internal/config"
	"codeblue/internal/db"
	"codeblue/internal/engine"
	"codeblue/internal/migrate"
	"codeblue/internal/notify"
)

// Runtime bundles what a command needs to run: an open migrated database,
// the workspace config, and an engine wired to the telephony provider.
type Runtime struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Bootstrap opens the workspace database, applies migrations, loads the
// config (falling back to defaults when codeblue.yml is absent), and builds
// the engine. Carrier credentials and the callback signing secret come from
// the environment only.
func Bootstrap(workspace string) (*Runtime, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg == nil {
		logrus.Warnf("%s not found, using built-in defaults; run 'cb config init' to customize", config.Path(workspace))
		cfg = config.Default()
	}

	e := engine.New(conn, cfg, notifierFromEnv(cfg))
	e.Tokens = notify.TokenSigner{
		Secret: os.Getenv("CODEBLUE_CALLBACK_SECRET"),
		TTL:    tokenTTL(cfg),
	}
	if !e.Tokens.Enabled() {
		logrus.Warn("CODEBLUE_CALLBACK_SECRET not set; callback URLs are unsigned")
	}
	return &Runtime{DB: conn, Config: cfg, Engine: e}, nil
}

func (rt *Runtime) Close() error {
	return rt.DB.Close()
}

// notifierFromEnv returns the Twilio client when credentials are present and
// the log-only notifier otherwise.
func notifierFromEnv(cfg *config.Config) notify.Notifier {
	sid := os.Getenv("TWILIO_ACCOUNT_SID")
	token := os.Getenv("TWILIO_AUTH_TOKEN")
	if sid == "" || token == "" {
		logrus.Warn("TWILIO_ACCOUNT_SID/TWILIO_AUTH_TOKEN not set; telephony runs in log-only mode")
		return notify.LogOnly{}
	}
	return notify.NewTwilio(notify.TwilioConfig{
		AccountSID:    sid,
		AuthToken:     token,
		From:          cfg.Telephony.From,
		MessagingFrom: cfg.Telephony.MessagingFrom,
	})
}

// tokenTTL sizes callback tokens to outlive the whole timeline, with slack
// for callbacks the carrier delivers late.
func tokenTTL(cfg *config.Config) time.Duration {
	total := cfg.MessageWait() + cfg.ReportWait()
	for _, w := range cfg.RetryWaits() {
		total += w
	}
	return total + time.Hour
}
