package market

import (
	"github.com/datatrails/go-datatrails-ledger/logger"
)

type Logger = logger.Logger
