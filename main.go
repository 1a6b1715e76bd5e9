package main

import (
	"log"
	"os"

	"sessiond/internal/api"
	"sessiond/internal/audit"
	"sessiond/internal/auth"
	"sessiond/internal/config"
	"sessiond/internal/logger"
	"sessiond/internal/session"
	"sessiond/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("SESSIOND_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	svcLog, err := logger.New(logger.Config{
		Level:   cfg.BasicConfig.LogLevel,
		File:    cfg.BasicConfig.LogFile,
		Console: true,
		Pretty:  cfg.BasicConfig.PrettyLogs,
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer svcLog.Close()

	accessLog := svcLog
	if cfg.BasicConfig.AccessLogFile != "" {
		accessLog, err = logger.NewFileLogger(cfg.BasicConfig.AccessLogFile)
		if err != nil {
			log.Fatalf("init access log: %v", err)
		}
		defer accessLog.Close()
	}

	dbType := os.Getenv("SESSIOND_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	repo := session.NewRepository(db)
	verifier := auth.NewVerifier(cfg.BasicConfig.AuthServiceURL, svcLog.Logger)
	access := audit.NewLogger(accessLog.Logger)
	handlers := api.NewHandler(repo, svcLog.Logger)

	router := gin.Default()
	handlers.RegisterRoutes(router, verifier, access)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":3002"
	}
	svcLog.Info().Str("addr", addr).Str("db", dbType).Msg("session service starting")

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
