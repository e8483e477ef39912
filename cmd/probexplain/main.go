// Command probexplain runs explanation algorithms over a Bayesian network
// and prints the results as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cognicore/probexplain/internal/logging"
	"github.com/cognicore/probexplain/pkg/probexplain"
	"github.com/cognicore/probexplain/pkg/probexplain/config"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
)

// app holds the persistent flags shared by every subcommand.
type app struct {
	configPath  string
	networkPath string
	backend     string
	db          string
	logLevel    string
	evidence    string
	envFile     string

	// set by load
	cfg    config.Config
	comp   *config.Components
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "probexplain",
		Short: "Explain MAP hypotheses and posteriors of a Bayesian network",
		Long: `probexplain loads a discrete Bayesian network from YAML and runs
explanation algorithms against it: MAP and posterior queries, Markov blanket
influence, CPT sensitivity, MAP independence and defeater search.

Configuration is read from --config, then PROBEXPLAIN_* variables from the
environment or a .env file, then command line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML configuration file")
	pf.StringVarP(&a.networkPath, "network", "n", "", "network YAML file")
	pf.StringVarP(&a.backend, "backend", "b", "", fmt.Sprintf("inference backend %v", probexplain.Backends()))
	pf.StringVar(&a.db, "db", "", "sqlite ledger path; results are recorded when set")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVarP(&a.evidence, "evidence", "e", "", "evidence as var=state,...")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file with PROBEXPLAIN_* overrides")

	root.AddCommand(
		a.variablesCmd(),
		a.posteriorCmd(),
		a.mapCmd(),
		a.blanketCmd(),
		a.sensitivityCmd(),
		a.independenceCmd(),
		a.defeatersCmd(),
		a.sampleCmd(),
		a.historyCmd(),
	)
	return root
}

// load resolves configuration and builds the logger. Flags given on the
// command line override the file and the environment.
func (a *app) load(cmd *cobra.Command) error {
	loader := config.Loader{
		ConfigPath:  a.configPath,
		NetworkPath: a.networkPath,
		EnvFile:     a.envFile,
	}
	comp, err := loader.Load()
	if err != nil {
		return err
	}
	cfg := comp.Config
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = a.backend
	}
	if flags.Changed("db") {
		cfg.DB = a.db
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	comp.Config = cfg

	logger, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.comp = comp
	a.logger = logger
	return nil
}

// open starts a session over the configured network. The ledger is attached
// only when a database path is configured.
func (a *app) open(ctx context.Context) (*probexplain.Session, error) {
	if a.comp.Network == nil {
		return nil, fmt.Errorf("no network: pass --network or set network in the config")
	}
	opts := probexplain.OptionsFromConfig(a.comp)
	opts.Logger = a.logger
	if a.cfg.DB != "" {
		st, err := probexplain.OpenStore(ctx, a.cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		opts.Store = st
	}
	s, err := probexplain.Open(ctx, opts)
	if err != nil {
		if opts.Store != nil {
			_ = opts.Store.Close()
		}
		return nil, err
	}
	return s, nil
}

func (a *app) evidenceFlag() (model.Evidence, error) {
	return parseEvidence(a.evidence)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
