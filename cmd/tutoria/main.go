package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/aulaviva/tutoria/internal/chat"
	"github.com/aulaviva/tutoria/internal/handler"
	appI18n "github.com/aulaviva/tutoria/internal/i18n"
	"github.com/aulaviva/tutoria/internal/llm"
	"github.com/aulaviva/tutoria/internal/model"
	"github.com/aulaviva/tutoria/internal/retrieval"
	"github.com/aulaviva/tutoria/internal/store"
	"github.com/aulaviva/tutoria/internal/ws"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tutoria",
		Short: "Conversational tutoring and evaluation server",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `tutoria --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat and evaluation server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "tutoria.db", "SQLite database path")
	f.StringSliceP("assistants", "s", nil, "Paths to assistant JSON seed files (repeatable)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.StringP("lang", "l", "es", "Message language (es, en)")
	f.Duration("pacing", 2*time.Second, "Delay before continuation and end events")
	f.String("retrieval-url", "", "Context retrieval sidecar base URL (empty disables retrieval)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set TUTORIA_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export evaluation results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "tutoria.db", "SQLite database path")
	f.Int64("evaluation-id", 0, "Evaluation to export (required)")
	f.String("date", "", "Evaluation date in YYYY-MM-DD format for output metadata")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("evaluation-id")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("TUTORIA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("tutoria")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/tutoria")
	v.AddConfigPath("/etc/tutoria")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := loadAssistants(db, v.GetStringSlice("assistants")); err != nil {
		return fmt.Errorf("load assistants: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
	)
	if err := llmClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	var retriever retrieval.Retriever = retrieval.Noop{}
	if url := v.GetString("retrieval-url"); url != "" {
		retriever = retrieval.NewHTTP(url)
		slog.Info("context retrieval enabled", "url", url)
	}

	cfg := model.ServerConfig{
		Lang:          lang,
		Pacing:        v.GetDuration("pacing"),
		SecureCookies: v.GetBool("secure-cookies"),
		RetrievalURL:  v.GetString("retrieval-url"),
	}

	chatHandler := chat.NewHandler(db, db, llmClient, retriever, cfg.Pacing)
	wsServer := ws.NewServer(chatHandler, db, lang)
	h := handler.New(db, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	r.Route("/api", h.Routes)
	r.Handle("/ws", wsServer)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"pacing", cfg.Pacing,
		"retrieval_url", cfg.RetrievalURL,
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	evaluationID := v.GetInt64("evaluation-id")
	ev, err := db.FindEvaluation(evaluationID)
	if err != nil {
		return fmt.Errorf("find evaluation: %w", err)
	}
	if ev == nil {
		return fmt.Errorf("evaluation %d not found", evaluationID)
	}

	results, err := db.ExportResults(evaluationID)
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	date := v.GetString("date")
	if date == "" && !ev.ScheduledAt.IsZero() {
		date = ev.ScheduledAt.Format("2006-01-02")
	}

	export := model.ResultsExport{
		AssistantID: ev.AssistantID,
		Evaluation:  ev.Title,
		Date:        date,
		Results:     results,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

// loadAssistants imports assistant seed files. A file is imported once; edits
// after the first import are skipped so live evaluations keep their questions.
func loadAssistants(db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("assistant file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("assistant file changed since last import, skipping to avoid breaking existing evaluations",
				"path", path)
			continue
		}

		var imp model.AssistantImport
		if err := json.Unmarshal(data, &imp); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		assistantID, err := db.CreateAssistant(model.Assistant{
			Name:         imp.Name,
			Instructions: imp.Instructions,
			Style:        imp.Style,
			Institution:  imp.Institution,
			OwnerID:      1,
		})
		if err != nil {
			return fmt.Errorf("create assistant from %s: %w", path, err)
		}

		for _, evImport := range imp.Evaluations {
			ev := model.Evaluation{
				AssistantID: assistantID,
				Title:       evImport.Title,
			}
			if evImport.Date != "" {
				t, err := time.Parse("2006-01-02", evImport.Date)
				if err != nil {
					return fmt.Errorf("parse date %q in %s: %w", evImport.Date, path, err)
				}
				ev.ScheduledAt = t
			}
			for _, q := range evImport.Questions {
				ev.Questions = append(ev.Questions, model.Question{
					Text:          q.Text,
					Choices:       q.Options,
					CorrectAnswer: q.CorrectAnswer,
				})
			}
			if _, err := db.CreateEvaluation(ev); err != nil {
				return fmt.Errorf("create evaluation %q from %s: %w", evImport.Title, path, err)
			}
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported assistant", "path", path, "name", imp.Name, "evaluations", len(imp.Evaluations))
	}

	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or TUTORIA_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Email:        "admin@tutoria.local",
		Name:         "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "email", "admin@tutoria.local")
	return nil
}
