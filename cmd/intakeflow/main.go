package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lexbr/intakeflow/internal/api"
	"github.com/lexbr/intakeflow/internal/genai"
	"github.com/lexbr/intakeflow/internal/lockfile"
	"github.com/lexbr/intakeflow/internal/notify"
	"github.com/lexbr/intakeflow/internal/store"
	"github.com/lexbr/intakeflow/internal/util"
	"github.com/lexbr/intakeflow/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for IntakeFlow state data
	DefaultStateDir = "/var/lib/intakeflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "intakeflow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Guard the state directory against concurrent instances
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	notifyOpts := buildNotifyOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping IntakeFlow with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "store", len(storeOpts), "genai", len(genaiOpts), "notify", len(notifyOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "ai_backend", *flags.aiBackend)
	if err := api.Run(waOpts, storeOpts, genaiOpts, notifyOpts, apiOpts); err != nil {
		slog.Error("IntakeFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("IntakeFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	GeminiKey     string
	OpenAIKey     string
	AIBackend     string
	APIAddr       string
	LawyerList    string
	TwilioEnabled bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	geminiKey *string
	openaiKey *string
	aiBackend *string
	apiAddr   *string
	lawyers   *string
	twilio    *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("INTAKEFLOW_STATE_DIR"),
		GeminiKey:     os.Getenv("GEMINI_API_KEY"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		AIBackend:     os.Getenv("AI_BACKEND"),
		APIAddr:       os.Getenv("API_ADDR"),
		LawyerList:    os.Getenv("LAWYER_CONTACTS"),
		TwilioEnabled: os.Getenv("MESSAGING_BACKEND") == "twilio",
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No INTAKEFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("INTAKEFLOW_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"INTAKEFLOW_STATE_DIR", config.StateDir,
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"AI_BACKEND", config.AIBackend,
		"API_ADDR", config.APIAddr,
		"LAWYER_CONTACTS_SET", config.LawyerList != "",
		"MESSAGING_BACKEND_TWILIO", config.TwilioEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write login QR code"),
		numeric:   flag.Bool("numeric-code", util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false), "use numeric login code instead of QR code (overrides $WHATSAPP_NUMERIC_CODE)"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for IntakeFlow data (overrides $INTAKEFLOW_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN for session and lead store (overrides $DATABASE_URL)"),
		geminiKey: flag.String("gemini-api-key", config.GeminiKey, "Gemini API key (overrides $GEMINI_API_KEY)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		aiBackend: flag.String("ai-backend", config.AIBackend, "generative backend: gemini or openai (overrides $AI_BACKEND)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		lawyers:   flag.String("lawyers", config.LawyerList, "lawyer contacts as Name:Phone pairs separated by ';' (overrides $LAWYER_CONTACTS)"),
		twilio:    flag.Bool("twilio", config.TwilioEnabled, "use Twilio as the WhatsApp transport (overrides $MESSAGING_BACKEND=twilio)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"geminiKeySet", *flags.geminiKey != "",
		"openaiKeySet", *flags.openaiKey != "",
		"aiBackend", *flags.aiBackend,
		"apiAddr", *flags.apiAddr,
		"lawyersSet", *flags.lawyers != "",
		"twilio", *flags.twilio)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory created successfully", "state_dir", stateDir)
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == "postgres" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		// Check if it's a PostgreSQL DSN using the shared detection function
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			// Assume SQLite for file paths
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.aiBackend == api.AIBackendOpenAI {
		if *flags.openaiKey != "" {
			genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
		}
		return genaiOpts
	}
	if *flags.geminiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.geminiKey))
	}
	return genaiOpts
}

// buildNotifyOptions constructs lawyer notification options
func buildNotifyOptions(flags Flags) []notify.Option {
	var notifyOpts []notify.Option
	if lawyers := parseLawyerContacts(*flags.lawyers); len(lawyers) > 0 {
		notifyOpts = append(notifyOpts, notify.WithLawyers(lawyers))
	}
	return notifyOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.aiBackend != "" {
		apiOpts = append(apiOpts, api.WithAIBackend(*flags.aiBackend))
	}
	if *flags.twilio {
		apiOpts = append(apiOpts, api.WithTwilioTransport())
	}
	return apiOpts
}

// parseLawyerContacts parses "Name:Phone;Name:Phone" pairs into lawyer entries.
// Malformed entries are skipped with a warning.
func parseLawyerContacts(s string) []notify.Lawyer {
	var lawyers []notify.Lawyer
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, phone, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		phone = strings.TrimSpace(phone)
		if !ok || name == "" || phone == "" {
			slog.Warn("Skipping malformed lawyer contact entry", "entry", entry)
			continue
		}
		lawyers = append(lawyers, notify.Lawyer{Name: name, Phone: phone})
	}
	return lawyers
}
