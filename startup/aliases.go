package startup

import (
	"github.com/datatrails/go-datatrails-ledger/logger"
)

type Logger = logger.Logger
