package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"pipetrack/internal/config"
	"pipetrack/internal/logging"
	"pipetrack/internal/oplog"
	"pipetrack/internal/query"
	"pipetrack/internal/store"
	"pipetrack/internal/tracker"
)

type commandContext struct {
	configFlag   *string
	jsonFlag     *bool
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		jsonFlag:     jsonFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.logLevelFlag)
		}
		c.config = cfg
		c.configPath = resolved
		c.configSeen = exists
	})
	return c.config, c.configErr
}

// ensureLogger builds the run logger and prunes expired log files once.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.loggerErr = err
			return
		}
		logging.PruneLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
		c.logger = logger
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// withStore opens the record store for the duration of fn.
func (c *commandContext) withStore(cmd *cobra.Command, fn func(*config.Config, *store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.OpenContext(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st)
}

// services bundles the components most commands need.
type services struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	tracker *tracker.Tracker
	ops     *oplog.Logger
	query   *query.Service
}

func (c *commandContext) withServices(cmd *cobra.Command, fn func(*services) error) error {
	logger, err := c.ensureLogger()
	if err != nil {
		return err
	}
	return c.withStore(cmd, func(cfg *config.Config, st *store.Store) error {
		tr := tracker.New(st, cfg, logger)
		return fn(&services{
			cfg:     cfg,
			logger:  logger,
			store:   st,
			tracker: tr,
			ops:     oplog.New(tr, logger),
			query:   query.New(st),
		})
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
