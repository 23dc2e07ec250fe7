package config

import (
	"os"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

func ParseLevel(level string) (log.Level, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return 0, errors.Wrap(err, "log.level")
	}
	return lvl, nil
}

// ConfigureLogging applies the log settings to the standard logrus logger.
func ConfigureLogging(c LogConfig) error {
	lvl, err := ParseLevel(c.Level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stdout)
	if c.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
