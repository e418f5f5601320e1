package main

import (
	"flag"
	"os"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/qr"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/config"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/logger"
)

// qrgen writes one printable QR code per table.
func main() {
	dir := flag.String("out", "qr_codes", "output directory")
	flag.Parse()

	log := logger.New("qrgen", "info")

	cfg, err := config.Load(".", "./config")
	if err != nil {
		log.Error("qrgen", "failed to load config", "", err, nil)
		os.Exit(1)
	}

	paths, err := qr.NewGenerator(cfg.Server.PublicBaseURL).WriteFiles(*dir, cfg.Tables.Count)
	if err != nil {
		log.Error("qrgen", "failed to write qr codes", "", err, nil)
		os.Exit(1)
	}

	log.Info("qrgen", "qr codes written", "", map[string]any{
		"dir":      *dir,
		"count":    len(paths),
		"base_url": cfg.Server.PublicBaseURL,
	})
}
