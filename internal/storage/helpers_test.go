package storage

import logx "feedrelay/pkg/logx"

func nilLogger() logx.Logger { return logx.Nop() }
