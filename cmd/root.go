// Package cmd wires up the CLI flags and dispatches a batch to the
// host-action queue.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"
	"text/tabwriter"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"hostrun/config"
	"hostrun/internal/account"
	"hostrun/internal/action"
	"hostrun/internal/capability"
	hrerr "hostrun/internal/errors"
	"hostrun/internal/host"
	"hostrun/internal/metrics"
	"hostrun/internal/queue"
	"hostrun/internal/retry"
	"hostrun/internal/transport"
	"hostrun/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X hostrun/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// readPassword prompts on stderr and reads without echo.
var readPassword = func() (string, error) { //nolint:gochecknoglobals
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// Execute parses args and runs the batch they describe.
func Execute(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdin, os.Stdout)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	cfg := config.Default()
	config.LoadFromEnv(cfg)
	fs := flag.NewFlagSet("hostrun", flag.ContinueOnError)

	// ── targets ──────────────────────────────────────────────────
	fs.StringVarP(&cfg.Inventory, "inventory", "i", cfg.Inventory, "TOML inventory of accounts and hosts")
	fs.StringVarP(&cfg.Protocol, "protocol", "P", cfg.Protocol, "Protocol for hosts given without a scheme")

	// ── work ─────────────────────────────────────────────────────
	fs.StringArrayVarP(&cfg.Commands, "exec", "e", nil, "Command to run on every host (repeatable)")
	fs.StringVar(&cfg.Script, "script", cfg.Script, "File with one command per line")

	// ── credentials ──────────────────────────────────────────────
	fs.StringVarP(&cfg.User, "user", "u", cfg.User, "Log in as this user on every host")
	fs.BoolVar(&cfg.AskPassword, "ask-password", false, "Prompt for the --user password")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")

	// ── SSH ──────────────────────────────────────────────────────
	fs.StringVarP(&cfg.Gateway, "gateway", "g", cfg.Gateway, "SSH jump host [user@]host[:port]")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── execution ────────────────────────────────────────────────
	fs.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "Hosts worked on at once")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "Extra attempts for a failing host")
	fs.DurationVarP(&cfg.Timeout, "timeout", "t", cfg.Timeout, "Connect and per-command timeout")
	fs.StringVar(&cfg.LogDir, "logdir", cfg.LogDir, "Write per-host session logs here")
	fs.BoolVarP(&cfg.DryRun, "dry-run", "n", false, "Show the plan without connecting")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "hostrun %s\n", version)
		return nil
	}

	cfg.Hosts = fs.Args()

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Verbose)

	pool, hosts, err := buildTargets(cfg)
	if err != nil {
		return err
	}
	capab, err := buildCapability(cfg, len(hosts), stdin, stdout)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		printPlan(stdout, cfg, hosts)
		return nil
	}

	if cfg.AskPassword {
		pw, err := readPassword()
		if err != nil {
			return err
		}
		cfg.Password = pw
	}

	// ── build components ─────────────────────────────────────────
	m := metrics.New()

	coordCtx, stop := context.WithCancel(ctx)
	defer stop()
	manager := account.NewManager(pool,
		account.WithLogger(logger),
		account.WithMetrics(m))
	manager.Start(coordCtx)

	q := queue.New(manager,
		queue.WithWorkers(cfg.Workers),
		queue.WithBackoff(&retry.Backoff{
			InitialDelay: config.DefaultRetryDelay,
			MaxDelay:     config.DefaultMaxRetryDelay,
			Multiplier:   2.0,
			MaxAttempts:  cfg.Attempts(),
			Jitter:       true,
		}),
		queue.WithBreaker(retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
			MaxFailures:  config.DefaultBreakerFailures,
			ResetTimeout: config.DefaultBreakerReset,
			OnStateChange: func(from, to retry.State) {
				logger.Warn("circuit breaker %s -> %s", from, to)
			},
		})),
		queue.WithParams(transportParams(cfg)),
		queue.WithLogDir(cfg.LogDir),
		queue.WithLogger(logger),
		queue.WithMetrics(m),
	)

	fn := withAccount(capab, cliAccount(cfg))
	results, err := q.Run(ctx, hosts, fn)

	ok := 0
	for _, r := range results {
		if r.Err == nil {
			ok++
		}
	}
	logger.Info("%d/%d hosts succeeded", ok, len(results))
	if cfg.Verbose >= 2 {
		fmt.Fprintln(os.Stderr, m.JSON())
	}
	return err
}

// ── helpers ──────────────────────────────────────────────────────────

// buildTargets merges the inventory with the hosts on the command line.
// When nothing supplies an account, the local user goes into the pool.
func buildTargets(cfg *config.Config) ([]*account.Account, []*host.Host, error) {
	var (
		pool  []*account.Account
		hosts []*host.Host
	)
	if cfg.Inventory != "" {
		inv, err := config.LoadInventory(cfg.Inventory)
		if err != nil {
			return nil, nil, err
		}
		pool = inv.PoolAccounts()
		hosts, err = inv.Targets(cfg.Protocol, pool)
		if err != nil {
			return nil, nil, err
		}
	}
	for _, arg := range cfg.Hosts {
		h, err := host.Parse(arg, cfg.Protocol)
		if err != nil {
			return nil, nil, &hrerr.ConfigError{Field: "host", Value: arg, Message: err.Error()}
		}
		hosts = append(hosts, h)
	}
	if len(hosts) == 0 {
		return nil, nil, &hrerr.ConfigError{
			Field:   "inventory",
			Value:   cfg.Inventory,
			Message: "declares no hosts",
		}
	}

	if len(pool) == 0 && cfg.User == "" {
		pool = []*account.Account{{Name: localUser(), KeyPath: cfg.SSHKeyPath, Sessions: cfg.Workers}}
	}
	return pool, hosts, nil
}

// buildCapability picks the work routine: the command list, else an
// interactive relay for a single host.
func buildCapability(cfg *config.Config, nhosts int, stdin io.Reader, stdout io.Writer) (capability.Capability, error) {
	lines := cfg.Commands
	if cfg.Script != "" {
		var err error
		if lines, err = capability.LoadScript(cfg.Script); err != nil {
			return nil, err
		}
	}
	if len(lines) > 0 {
		return &capability.Commands{Lines: lines, Output: stdout}, nil
	}
	if nhosts != 1 {
		return nil, &hrerr.ConfigError{
			Field:   "exec",
			Message: "nothing to run",
			Hint:    "give commands with -e or --script; interactive mode needs exactly one host",
		}
	}
	return &capability.Relay{Stdin: stdin, Stdout: stdout}, nil
}

// cliAccount is the account named by --user, or nil.
func cliAccount(cfg *config.Config) *account.Account {
	if cfg.User == "" {
		return nil
	}
	return &account.Account{Name: cfg.User, Password: cfg.Password, KeyPath: cfg.SSHKeyPath}
}

func withAccount(c capability.Capability, a *account.Account) action.Func {
	return (&capability.Autologin{Account: a, Next: c}).Handle
}

func transportParams(cfg *config.Config) transport.Params {
	p := transport.Params{
		transport.ParamTimeout:       cfg.Timeout.String(),
		transport.ParamStrictHostKey: strconv.FormatBool(cfg.StrictHostKey),
	}
	if cfg.Gateway != "" {
		p[transport.ParamGateway] = cfg.Gateway
		p[transport.ParamGatewayKey] = cfg.SSHKeyPath
	}
	if cfg.KnownHostsPath != "" {
		p[transport.ParamKnownHosts] = cfg.KnownHostsPath
	}
	return p
}

func localUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "root"
}

// printPlan lists what a run would do, including which branch of the
// account policy each host would take.
func printPlan(w io.Writer, cfg *config.Config, hosts []*host.Host) {
	explicit := cliAccount(cfg)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tPROTOCOL\tADDRESS\tACCOUNT\tLOG")
	for _, h := range hosts {
		res := account.Resolve(explicit, h.Account(), h.Address())
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s.log\n", h.Name(), h.Protocol(), h.Address(), res, h.LogName())
	}
	tw.Flush()
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `hostrun – run commands on many network hosts v%s

Usage:
  hostrun [options] <host> [hosts...]         Run -e/--script on each host
  hostrun [options] -i inventory.toml         Hosts and accounts from a file
  hostrun [options] <host>                    Interactive (stdin → host)

Hosts are names, addresses or URLs: ssh://user:pw@10.0.0.1:2222,
telnet://core-sw1, pseudo://fixtures/r1.toml.
Protocols: %s.

Options:
`, version, strings.Join(transport.Default().Names(), ", "))
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  hostrun -u netops --ask-password -e "show version" r1 r2 r3
  hostrun -i lab.toml --script audit.txt --logdir logs/
  hostrun -P telnet -w 32 --retries 3 -e "show clock" 10.0.0.1 10.0.0.2
  hostrun -g ops@bastion -e uptime db1 db2
  hostrun -n -i lab.toml                      Show the plan only
`)
}
