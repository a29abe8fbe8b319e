// Package logging builds the process zap logger.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Components take a *zap.Logger and name their children, so sandbox console
// and debug:* messages show up under "relay.sandbox".
//
// Example Usage:
//
//	logger, err := logging.New(logging.Config{Level: "debug"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//	logger.Info("Server starting", zap.String("port", "8000"))
package logging
