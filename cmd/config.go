package cmd

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	configVersionKey     = "version"
	currentConfigVersion = 1

	configBaseName   = "prompteval"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	verboseFlagName    = "verbose"
	forceFlagName      = "force"
	noCleanFlagName    = "no-clean"
	sourceRootFlagName = "source-root"

	runParallelFlagName   = "parallel"
	retriesFlagName       = "retries"
	repeatFlagName        = "repeat"
	filterFlagName        = "filter"
	shardFlagName         = "shard"
	printOutputFlagName   = "print-output-on-success"
	sandboxFlagName       = "sandbox"
	agentBinFlagName      = "agent-bin"
	evalBinFlagName       = "eval-bin"
	installNpmFlagName    = "install-from-npm"
	installSourceFlagName = "install-from-src"
	testTimeoutFlagName   = "test-timeout"

	runParallelConfigKey = "run.parallel"
	retriesConfigKey     = "run.retries"
	repeatConfigKey      = "run.repeat"
	shardConfigKey       = "run.shard"
	testTimeoutConfigKey = "run.test_timeout"

	evalBinConfigKey        = "eval.bin"
	evalNpmVersionConfigKey = "eval.npm_version"
	evalSourceRevConfigKey  = "eval.source_revision"
	evalSourceRepoConfigKey = "eval.source_repo"
	evalInstallDirConfigKey = "eval.install_dir"

	agentBinConfigKey     = "agent.bin"
	agentSandboxConfigKey = "agent.sandbox"

	sourceRootConfigKey = "checkout.source_root"

	defaultRunParallel = 1
	defaultRetries     = 0
	defaultRepeat      = 0
	defaultTestTimeout = time.Minute * 10

	defaultSourceRepo = "https://github.com/promptfoo/promptfoo.git"
	defaultInstallDir = ".prompteval-tool"
	defaultSourceRoot = "."

	envPrefix = "PROMPTEVAL"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logVerboseKey    = "log.verbose"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogFilename   = ".prompteval.log"
	defaultLogLevel      = int(slog.LevelInfo)
	defaultLogVerbose    = false
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

var globalLogger *slog.Logger

func init() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.SetConfigFile(filepath.Join(configFolderPath, configFileName))
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetDefault(configVersionKey, currentConfigVersion)
	viper.SetDefault(runParallelConfigKey, defaultRunParallel)
	viper.SetDefault(retriesConfigKey, defaultRetries)
	viper.SetDefault(repeatConfigKey, defaultRepeat)
	viper.SetDefault(shardConfigKey, "")
	viper.SetDefault(testTimeoutConfigKey, defaultTestTimeout)

	viper.SetDefault(evalBinConfigKey, "")
	viper.SetDefault(evalNpmVersionConfigKey, "")
	viper.SetDefault(evalSourceRevConfigKey, "")
	viper.SetDefault(evalSourceRepoConfigKey, defaultSourceRepo)
	viper.SetDefault(evalInstallDirConfigKey, defaultInstallDir)

	viper.SetDefault(agentBinConfigKey, "")
	viper.SetDefault(agentSandboxConfigKey, false)

	viper.SetDefault(sourceRootConfigKey, defaultSourceRoot)

	// Logging defaults (used by config/env and as fallbacks for flags).
	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, defaultLogLevel)
	viper.SetDefault(logVerboseKey, defaultLogVerbose)
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return
		}

		return
	}
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger configures the global slog logger.
//
// By default it logs at Info; if verbose is true it logs at Debug.
func configureLogger(logPath string, verbose bool) {
	if strings.TrimSpace(logPath) == "" {
		logPath = viper.GetString(logFilenameKey)
	}

	if strings.TrimSpace(logPath) == "" {
		logPath = defaultLogFilename
	}

	var logLevel slog.Level
	if verbose {
		logLevel = slog.LevelDebug
	} else {
		logLevel = parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		MaxAge:     viper.GetInt(logMaxAgeKey),
		Compress:   viper.GetBool(logCompressKey),
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}
