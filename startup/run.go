// Package startup is intended as a helper package to
// run services in go routines in main
package startup

import (
	"os"

	"github.com/datatrails/go-datatrails-ledger/environment"
	"github.com/datatrails/go-datatrails-ledger/logger"
	"github.com/datatrails/go-datatrails-ledger/tracing"
)

type Runner func(Logger) error

// Run initialises logging from LOGLEVEL, sizes the go runtime for the
// container and, if portName names an env var holding the service port,
// installs the zipkin tracer with that port in its local endpoint. It then
// calls run and exits the process.
//
// defers do not work in main() because of the os.Exit(
func Run(serviceName string, portName string, run Runner) {
	logger.New(environment.GetLogLevel())
	log := logger.Sugar.WithServiceName(serviceName)

	exitCode := func() int {
		cfg, undo, err := configureRuntime(log)
		if err != nil {
			log.Infof("Error configuring go for kubernetes: %v", err)
			return 1
		}
		defer undo()

		// log the useful kubernetes go configuration
		log.Infof("Go Configuration: %+v", cfg)

		if portName != "" {
			host := "localhost:" + environment.GetWithDefault(portName, "0")
			closer := tracing.NewFromEnv(log, serviceName, host)
			if closer != nil {
				defer closer.Close()
			}
		}
		if err := run(log); err != nil {
			log.Infof("Error at startup: %v", err)
			return 1
		}
		return 0
	}()

	log.Infof("Shutting down")
	logger.OnExit()

	os.Exit(exitCode)
}
