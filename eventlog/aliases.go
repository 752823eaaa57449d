package eventlog

import (
	"github.com/datatrails/go-datatrails-ledger/logger"
)

type Logger = logger.Logger
