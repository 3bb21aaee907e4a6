// Package logger provides structured logging for pkgmirror on top of zerolog.
//
// Components receive a Logger through their constructors; commands use the
// global logger set up by Initialize:
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("phase", "harvest")
//	log.InfoWithFields("Resuming", map[string]interface{}{"query": q, "offset": 500})
//
// Tests use NewNopLogger or NewTestLogger, which captures messages for
// assertions.
package logger
