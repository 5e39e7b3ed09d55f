package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/fastauth/internal/flagx"
)

var serverFlags = []string{
	"-a", "-m", "-d", "-s", "-alg", "-t", "-r", "-reclaim", "-l",
	"-gid", "-gsecret", "-gredirect",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string         gRPC bind address (e.g. ":50051")
//	-m string         metrics bind address (empty disables)
//	-d string         PostgreSQL DSN or "memory://"
//	-s string         token signing secret
//	-alg string       signing algorithm: HS256, HS384, HS512
//	-t int            access token validity, minutes
//	-r int            refresh token validity, days
//	-reclaim string   cron spec for the expired-token sweep
//	-l string         log level
//	-gid string       Google OAuth client id
//	-gsecret string   Google OAuth client secret
//	-gredirect string Google OAuth redirect URL
//
// Only the flags above are looked at; -c is handled by parseJSON.
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "address and port to serve metrics")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "token signing secret")
	fs.StringVar(&config.SigningAlgorithm, "alg", config.SigningAlgorithm, "token signing algorithm")

	accessMinutes := fs.Int("t", int(config.AccessTokenValidityDuration/time.Minute), "access token validity (in minutes)")
	refreshDays := fs.Int("r", int(config.RefreshTokenValidityDuration/(24*time.Hour)), "refresh token validity (in days)")

	fs.StringVar(&config.ReclaimSchedule, "reclaim", config.ReclaimSchedule, "expired token sweep schedule")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.GoogleClientID, "gid", config.GoogleClientID, "Google OAuth client id")
	fs.StringVar(&config.GoogleClientSecret, "gsecret", config.GoogleClientSecret, "Google OAuth client secret")
	fs.StringVar(&config.GoogleRedirectURL, "gredirect", config.GoogleRedirectURL, "Google OAuth redirect URL")

	if err := fs.Parse(flagx.FilterArgs(args, serverFlags)); err != nil {
		return err
	}

	// only override durations that were set explicitly, so sub-minute JSON
	// values survive a flag-less start
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*accessMinutes) * time.Minute
		case "r":
			config.RefreshTokenValidityDuration = time.Duration(*refreshDays) * 24 * time.Hour
		}
	})
	return nil
}
