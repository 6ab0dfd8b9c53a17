// Package cli holds the shared flag and env plumbing of the ckpt-panel
// binary.
package cli

import (
	"context"
	"log"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/pagewatch/checkpoints/pkg/bridge"
)

const (
	cliParamAddr         = "addr"
	cliParamAddrShort    = "a"
	cliParamSession      = "session"
	cliParamSessionShort = "s"
	cliParamDbFile       = "db-file"
	cliParamLogFile      = "log-file"
	cliParamLogLevel     = "log-level"
	cliParamVersion      = "version"
)

type Params struct {
	Addr      string
	SessionId string
	DbFile    string
	LogFile   string
	LogLevel  int
	Version   bool
}

// Config are the env defaults, loaded before flags are applied.
type Config struct {
	Addr      string `env:"CKPT_BRIDGE_ADDR"`
	SessionId string `env:"CKPT_SESSION_ID, default=dbg-1"`
	DbFile    string `env:"CKPT_DB_FILE"`
}

func ReadEnv(ctx context.Context) Config {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		panic(err)
	}

	return cfg
}

func AddFlags(rootCmd *cobra.Command, cfg Config) {
	f := rootCmd.PersistentFlags()
	f.StringP(cliParamAddr, cliParamAddrShort, bridge.ResolveAddr(cfg.Addr),
		"Address of the panel host bridge")
	f.StringP(cliParamSession, cliParamSessionShort, cfg.SessionId,
		"Debug session id")
	f.String(cliParamDbFile, cfg.DbFile,
		"Persist watches and checkpoints to a bbolt file")
	f.String(cliParamLogFile, "ckpt-panel.log",
		"Log file path")
	f.Int(cliParamLogLevel, 0,
		"Log level, 0-1 (silent-verbose)")
	f.Bool(cliParamVersion, false,
		"Print version and exit")
}

func ParseParams(cmd *cobra.Command, _ []string) Params {
	f := cmd.Flags()
	logLevel, err := f.GetInt(cliParamLogLevel)
	if err != nil {
		panic(err)
	}
	version, err := f.GetBool(cliParamVersion)
	if err != nil {
		panic(err)
	}

	return Params{
		Addr:      cmd.Flag(cliParamAddr).Value.String(),
		SessionId: cmd.Flag(cliParamSession).Value.String(),
		DbFile:    cmd.Flag(cliParamDbFile).Value.String(),
		LogFile:   cmd.Flag(cliParamLogFile).Value.String(),
		LogLevel:  logLevel,
		Version:   version,
	}
}

func GetVersion() string {
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return "(devel)"
	}

	ver := build.Main.Version
	if ver == "" {
		return "(devel)"
	}

	return ver
}

// GetFileLogger returns a file logger, according to params.
func GetFileLogger(params *Params) *log.Logger {
	if params.LogFile == "" || params.LogLevel < 1 {
		return nil
	}

	_ = os.Remove(params.LogFile)
	file, err := os.OpenFile(params.LogFile, os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		panic(err)
	}

	return log.New(file, "", log.LstdFlags)
}

// LiteralEval resolves plain numeric address literals. Stands in for the
// debugger's expression engine when the CLI runs outside a debug session.
type LiteralEval struct{}

func (LiteralEval) EvaluateUnsigned(expr string) (uint64, error) {
	return strconv.ParseUint(expr, 0, 64)
}
