// Package telemetry wires up the structured logger every orchestrator step
// writes through. NODE_DEBUG_NATIVE=smol_sea (spec §6) is the one
// environment-driven switch in the whole core; everything else in the core
// takes its configuration as explicit parameters.
package telemetry

import (
	"os"

	"github.com/sirupsen/logrus"
)

const traceEnvVar = "NODE_DEBUG_NATIVE"
const traceEnvValue = "smol_sea"

// New builds a logger writing to stderr. When NODE_DEBUG_NATIVE=smol_sea is
// set in the process environment, the level is raised to Debug and the text
// formatter adds full timestamps (by default it prints none).
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	if os.Getenv(traceEnvVar) == traceEnvValue {
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// Step logs a single orchestrator stage transition at Debug, matching the
// ordering guarantee in spec §5 (detect -> unwrap? -> encode -> engine ->
// resign -> wrap?).
func Step(log *logrus.Logger, op, step string, fields logrus.Fields) {
	entry := log.WithField("op", op).WithField("step", step)
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Debug("orchestrator step")
}
