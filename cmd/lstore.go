package cmd

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jamjamfong/lstore/config"
	"github.com/jamjamfong/lstore/db"
)

var (
	lstoreCmd = &cobra.Command{
		Use:               "lstore",
		Short:             "A columnar storage engine",
		Long:              "Lstore is an L-Store style columnar storage engine with a shell.",
		PersistentPreRunE: lstorePreRun,
		PersistentPostRun: lstorePostRun,
		SilenceUsage:      true,
	}

	logFile   = "lstore.log"
	logLevel  = "info"
	logStderr = false
	logWriter io.WriteCloser

	configFile = "lstore.hcl"
	noConfig   = false

	dataDir        = "data"
	store          = "file"
	poolPages      = db.DefaultConfig().PoolPages
	mergeThreshold = db.DefaultConfig().MergeThreshold

	cfg = config.New()
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := lstoreCmd.PersistentFlags()

	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging")
	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")

	fs.StringVar(&dataDir, "data", dataDir, "`directory` containing the database")
	fs.StringVar(&store, "store", store,
		"page store to use: file, bbolt, badger, pebble, or memory")
	fs.IntVar(&poolPages, "pool-pages", poolPages, "`pages` held by the buffer pool")
	fs.IntVar(&mergeThreshold, "merge-threshold", mergeThreshold,
		"new tail page ranges before a merge is scheduled")

	cfg.Bind(fs, "log-file", "log-level", "data", "store", "pool-pages", "merge-threshold")
}

func Execute() error {
	return lstoreCmd.Execute()
}

func lstorePreRun(cmd *cobra.Command, args []string) error {
	if configFile != "" && !noConfig {
		err := cfg.LoadFile(configFile)
		if err != nil && !(os.IsNotExist(err) && !cmd.Flags().Changed("config-file")) {
			return fmt.Errorf("lstore: %s", err)
		}
	}

	if !logStderr && logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("lstore: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("lstore: %s", err)
	}
	log.SetLevel(ll)

	log.WithField("pid", os.Getpid()).Info("lstore starting")
	return nil
}

func lstorePostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("lstore done")

	if logWriter != nil {
		logWriter.Close()
	}
}

func openDatabase() (*db.Database, error) {
	dbcfg := db.DefaultConfig()
	dbcfg.Store = store
	dbcfg.PoolPages = poolPages
	dbcfg.MergeThreshold = mergeThreshold
	dbcfg.Logger = log.StandardLogger()

	d, err := db.Open(dataDir, dbcfg)
	if err != nil {
		return nil, fmt.Errorf("lstore: %s", err)
	}
	return d, nil
}
