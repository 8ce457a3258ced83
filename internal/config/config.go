// Package config reads the integration endpoints of a simulation run from the
// environment. A .env file in the working directory is loaded first when present.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Env holds the optional integrations. An empty field disables its integration.
type Env struct {
	DatabaseURL     string
	NATSURL         string
	NATSSubject     string // subject prefix for trip records
	LogNATSSubjects bool
	MetricsAddr     string // e.g. ":9102"
}

// Load reads the environment after applying the given .env files (default ".env").
// Missing files are ignored; variables already set win over file values.
func Load(files ...string) (*Env, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	env := &Env{
		NATSURL:     os.Getenv("NATS_URL"),
		NATSSubject: getenvDefault("NATS_SUBJECT", "bikeshare.trips"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	// prefer DATABASE_URL / PG_DSN, else build from PG* vars when PGDATABASE is set
	env.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if env.DatabaseURL == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass := os.Getenv("PGPASSWORD"); pass != "" {
				env.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				env.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}

	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			env.LogNATSSubjects = true
		}
	}
	if strings.ContainsAny(env.NATSSubject, " *>") || strings.HasSuffix(env.NATSSubject, ".") {
		return nil, fmt.Errorf("invalid NATS_SUBJECT: %q", env.NATSSubject)
	}
	return env, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// urlEscape escapes the DSN user and password characters that break URL parsing.
func urlEscape(s string) string {
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
