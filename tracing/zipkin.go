package tracing

import (
	"log"

	"go.uber.org/zap"

	"github.com/datatrails/go-datatrails-ledger/logger"
)

// newZipkinLogger routes the reporter's stdlib logging into zap.
func newZipkinLogger() *log.Logger {
	if logger.Plain == nil {
		return zap.NewStdLog(zap.NewNop())
	}
	return zap.NewStdLog(logger.Plain.Named("zipkin"))
}
