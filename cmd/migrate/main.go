package main

import (
	"flag"
	"fmt"
	"os"

	"telegram-ai-billing/internal/config"
	"telegram-ai-billing/internal/infra/db/migrations"
	"telegram-ai-billing/internal/infra/logging"
)

func main() {
	var (
		configPath string
		down       int
		status     bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.IntVar(&down, "down", 0, "roll back this many steps instead of migrating up")
	flag.BoolVar(&status, "version", false, "print the applied version and exit")
	flag.Parse()

	cfg, err := config.Load(configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log, false)

	db, err := migrations.Open(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	switch {
	case status:
		v, dirty, err := migrations.Version(db)
		if err != nil {
			log.Fatal().Err(err).Msg("read version")
		}
		log.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
	case down > 0:
		if err := migrations.Down(db, down); err != nil {
			log.Fatal().Err(err).Msg("roll back")
		}
		log.Info().Int("steps", down).Msg("migrations rolled back")
	default:
		if err := migrations.Up(db); err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
		log.Info().Msg("migrations applied")
	}
}
