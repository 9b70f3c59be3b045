package instance

import "github.com/angelmondragon/bookitzzz-backend/pkg/env"

// GetID identifies this process in logs and cron lock ownership. DYNO is
// honoured for Heroku-style hosts.
func GetID() string {
	return env.Get("local", "BOOKITZZZ_INSTANCE_ID", "DYNO")
}
