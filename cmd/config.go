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

	"jstool.dev/pkg/jstool/internal/adapter"
	"jstool.dev/pkg/jstool/internal/domain"
)

const (
	configVersionKey     = "version"
	currentConfigVersion = 1

	configBaseName   = "jstool"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	verboseFlagName         = "verbose"
	logFileFlagName         = "log-file"
	jscoverFlagName         = "jscover"
	coverageXMLFlagName     = "coverage-xml"
	coverageHTMLFlagName    = "coverage-html"
	coverageTimeoutFlagName = "coverage-timeout"
	runParallelFlagName     = "parallel"
	headlessFlagName        = "headless"
	metricsAddrFlagName     = "metrics-addr"

	jscoverPathKey          = "coverage.jscover_path"
	javaPathKey             = "coverage.java_path"
	coverageTimeoutKey      = "coverage.timeout"
	coveragePollIntervalKey = "coverage.poll_interval"
	coverageXMLKey          = "coverage.xml"
	coverageHTMLKey         = "coverage.html"
	maxStartAttemptsKey     = "instrumenter.max_start_attempts"
	maxConnectAttemptsKey   = "instrumenter.max_connect_attempts"
	retryDelayKey           = "instrumenter.retry_delay"
	browserHeadlessKey      = "browser.headless"
	browserTimeoutKey       = "browser.timeout"
	runParallelConfigKey    = "browser.parallel"
	metricsAddrKey          = "serve.metrics_addr"

	defaultJavaPath        = "java"
	defaultRunParallel     = 1
	defaultBrowserHeadless = true

	envPrefix = "JSTOOL"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logVerboseKey    = "log.verbose"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogFilename   = ".jstool.log"
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

	instrumenter := adapter.DefaultInstrumenterOptions()
	browser := adapter.DefaultBrowserConfig()

	viper.SetDefault(jscoverPathKey, "")
	viper.SetDefault(javaPathKey, defaultJavaPath)
	viper.SetDefault(coverageTimeoutKey, int64(domain.DefaultCoverageTimeout.Seconds()))
	viper.SetDefault(coveragePollIntervalKey, domain.DefaultPollInterval.Milliseconds())
	viper.SetDefault(coverageXMLKey, "")
	viper.SetDefault(coverageHTMLKey, "")
	viper.SetDefault(maxStartAttemptsKey, instrumenter.MaxStartAttempts)
	viper.SetDefault(maxConnectAttemptsKey, instrumenter.MaxConnectAttempts)
	viper.SetDefault(retryDelayKey, instrumenter.RetryDelay.Milliseconds())
	viper.SetDefault(browserHeadlessKey, defaultBrowserHeadless)
	viper.SetDefault(browserTimeoutKey, int64(browser.Timeout.Seconds()))
	viper.SetDefault(runParallelConfigKey, defaultRunParallel)
	viper.SetDefault(metricsAddrKey, "")

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

// coverageEnabled reports whether a JSCover JAR is configured.
func coverageEnabled() bool {
	return strings.TrimSpace(viper.GetString(jscoverPathKey)) != ""
}

func secondsKey(key string) time.Duration {
	return time.Duration(viper.GetFloat64(key) * float64(time.Second))
}

func millisecondsKey(key string) time.Duration {
	return time.Duration(viper.GetInt64(key)) * time.Millisecond
}

func instrumenterOptions() adapter.InstrumenterOptions {
	opts := adapter.DefaultInstrumenterOptions()
	opts.MaxStartAttempts = viper.GetInt(maxStartAttemptsKey)
	opts.MaxConnectAttempts = viper.GetInt(maxConnectAttemptsKey)
	opts.RetryDelay = millisecondsKey(retryDelayKey)

	return opts
}

func browserConfig() adapter.BrowserConfig {
	return adapter.BrowserConfig{
		Headless: viper.GetBool(browserHeadlessKey),
		Timeout:  secondsKey(browserTimeoutKey),
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
	if verbose || viper.GetBool(logVerboseKey) {
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
