package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"certtrace/internal/certify"
	"certtrace/internal/config"
	"certtrace/internal/improve"
	"certtrace/internal/ledger"
	"certtrace/internal/logging"
	"certtrace/internal/report"
	"certtrace/internal/store"
	"certtrace/internal/trace"
)

var (
	cfgPath string
	verbose bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "certtrace",
	Short: "certtrace - safety certification traceability engine",
	Long: `certtrace maintains the traceability graph linking safety
requirements to verification objectives and tests, propagates the
impact of design changes, consumes field incident ledgers, derives
prioritized improvements, and gates configuration certification on
the combined evidence.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if verbose {
			cfg.Logging.Verbose = true
		}
		if err := logging.Init(cfg.Logging.Verbose); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// initCmd writes a starter config file.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgPath); err == nil {
			return fmt.Errorf("config already exists at %s", cfgPath)
		}
		if err := config.DefaultConfig().Save(cfgPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", cfgPath)
		return nil
	},
}

// ingestCmd drains a field incident ledger image into the improvement
// queue and persists the result.
var ingestCmd = &cobra.Command{
	Use:   "ingest [image]",
	Short: "Drain a field incident ledger image into the improvement queue",
	Long: `Reads a ledger image captured from a device, drains every
unconsumed incident record, derives improvements, and marks the
records processed. Corrupt records are skipped and counted as lost.
The updated image is written back so a re-run is a no-op.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath := cfg.Ledger.ImagePath
		if len(args) == 1 {
			imagePath = args[0]
		}
		led, err := ledger.ReadImage(imagePath)
		if err != nil {
			return fmt.Errorf("failed to read ledger image: %w", err)
		}
		if cfg.Ledger.Capacity > 0 && led.Capacity() != cfg.Ledger.Capacity {
			logging.LedgerWarn("image capacity %d differs from configured %d",
				led.Capacity(), cfg.Ledger.Capacity)
		}

		st, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
		queue, err := st.LoadImprovements()
		if err != nil {
			return err
		}

		drained, created := 0, 0
		d := led.Drain()
		for {
			rec, ok, err := d.Next()
			if err != nil {
				logging.LedgerWarn("skipping corrupt record: %v", err)
				continue
			}
			if !ok {
				break
			}
			drained++
			if _, fresh := queue.Ingest(rec); fresh {
				created++
			}
			led.MarkProcessed(rec.Sequence)
		}

		if err := st.SaveImprovements(queue); err != nil {
			return err
		}
		if err := led.WriteImage(imagePath); err != nil {
			return fmt.Errorf("failed to write ledger image: %w", err)
		}

		stats := led.Stats()
		fmt.Printf("drained %d records, %d new improvements, %d lost (%d evicted, %d corrupt)\n",
			drained, created, stats.Lost, stats.Evicted, stats.Corrupted)
		return nil
	},
}

// statusCmd summarizes graph, queue, and version state.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize traceability, improvement, and certification state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		graph, err := st.LoadGraph()
		if err != nil {
			return err
		}
		queue, err := st.LoadImprovements()
		if err != nil {
			return err
		}
		reg, err := st.LoadRegistry()
		if err != nil {
			return err
		}

		gs := graph.Stats()
		fmt.Printf("requirements: %d (%d verified)\n", gs.Requirements, gs.Verified)
		fmt.Printf("verifications: %d\n", gs.Verifications)
		fmt.Printf("tests: %d (%d affected)\n", gs.Tests, gs.Affected)
		fmt.Printf("changes: %d\n", gs.Changes)

		qs := queue.Stats()
		fmt.Printf("improvements: %d pending, %d in progress, %d implemented\n",
			qs.Pending, qs.InProgress, qs.Implemented)

		snap := graph.Snapshot()
		gate := certify.NewGate(reg)
		for _, v := range reg.Versions() {
			ev, err := gate.Evaluate(snap, v.Version)
			if err != nil {
				return err
			}
			ready := "blocked"
			if ev.OK {
				ready = "ready"
			}
			if v.Status == certify.StatusCertified {
				ready = "certified"
			}
			fmt.Printf("version %s: %s (%s)\n", v.Version, v.Status, ready)
			for _, reason := range ev.Reasons {
				fmt.Printf("  - %s\n", reason)
			}
		}
		return nil
	},
}

// certifyCmd runs the gate against one configuration version.
var certifyCmd = &cobra.Command{
	Use:   "certify [version]",
	Short: "Evaluate the certification gate and certify a version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version := args[0]
		st, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		graph, err := st.LoadGraph()
		if err != nil {
			return err
		}
		reg, err := st.LoadRegistry()
		if err != nil {
			return err
		}

		snap := graph.Snapshot()
		gate := certify.NewGate(reg)
		ev, err := gate.Evaluate(snap, version)
		if err != nil {
			return err
		}
		if !ev.OK {
			fmt.Printf("version %s blocked:\n", version)
			for _, reason := range ev.Reasons {
				fmt.Printf("  - %s\n", reason)
			}
			return fmt.Errorf("certification gate failed for %s", version)
		}
		if err := gate.Certify(snap, version, ev.Revision); err != nil {
			return err
		}
		if err := st.SaveRegistry(reg); err != nil {
			return err
		}
		fmt.Printf("version %s certified\n", version)
		return nil
	},
}

var exportDir string

// exportCmd writes the audit artifacts. The two reports touch
// disjoint state, so they render concurrently.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the traceability matrix and configuration report",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		graph, err := st.LoadGraph()
		if err != nil {
			return err
		}
		reg, err := st.LoadRegistry()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(exportDir, 0755); err != nil {
			return err
		}

		snap := graph.Snapshot()
		gate := certify.NewGate(reg)

		var g errgroup.Group
		g.Go(func() error {
			f, err := os.Create(filepath.Join(exportDir, "traceability.csv"))
			if err != nil {
				return err
			}
			defer f.Close()
			return trace.WriteTraceabilityCSV(f, snap)
		})
		g.Go(func() error {
			f, err := os.Create(filepath.Join(exportDir, "configurations.txt"))
			if err != nil {
				return err
			}
			defer f.Close()
			return certify.WriteConfigReport(f, gate, snap)
		})
		if err := g.Wait(); err != nil {
			return err
		}
		fmt.Printf("exported traceability.csv and configurations.txt to %s\n", exportDir)
		return nil
	},
}

var (
	obligationsWatch bool
	obligationsEvery time.Duration
)

// obligationsCmd computes currently due regulatory reports.
var obligationsCmd = &cobra.Command{
	Use:   "obligations [image]",
	Short: "List regulatory reporting obligations that are currently due",
	Long: `Evaluates the reporting rules against the incidents in a ledger
image and the current traceability graph. With --watch the rule file
is hot reloaded and the evaluation repeats on an interval until
interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath := cfg.Ledger.ImagePath
		if len(args) == 1 {
			imagePath = args[0]
		}

		rules, err := report.LoadRules(cfg.Reporting.RulesPath)
		if err != nil {
			return fmt.Errorf("failed to load reporting rules: %w", err)
		}
		sched := report.NewScheduler(rules)

		st, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
		acks, err := st.LoadSubmissions()
		if err != nil {
			return err
		}
		sched.RestoreSubmissions(acks)

		graph, err := st.LoadGraph()
		if err != nil {
			return err
		}
		queue, err := st.LoadImprovements()
		if err != nil {
			return err
		}

		// Draining here consumes the in-memory copy only; the image on
		// disk is left untouched.
		led, err := ledger.ReadImage(imagePath)
		if err != nil {
			return fmt.Errorf("failed to read ledger image: %w", err)
		}
		recs, errs := led.Drain().Collect()
		for _, derr := range errs {
			logging.LedgerWarn("skipping corrupt record: %v", derr)
		}
		incidents := make([]report.Incident, 0, len(recs))
		for _, rec := range recs {
			incidents = append(incidents, report.IncidentFromRecord(rec))
		}

		evaluate := func() {
			due := sched.DueReports(time.Now(), incidents, graph.Snapshot(), queue.LinkedComponents())
			if len(due) == 0 {
				fmt.Println("no obligations due")
				return
			}
			for _, ob := range due {
				fmt.Printf("%s %s due since %s: %s\n",
					ob.Standard, ob.Clause, ob.DueSince.UTC().Format(time.RFC3339), ob.Description)
			}
		}
		evaluate()

		if !obligationsWatch {
			return nil
		}
		watcher, err := report.WatchRules(cfg.Reporting.RulesPath, sched)
		if err != nil {
			return fmt.Errorf("failed to watch rules: %w", err)
		}
		defer watcher.Close()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		ticker := time.NewTicker(obligationsEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				evaluate()
			case <-sig:
				return nil
			}
		}
	},
}

// withGraph loads the graph, applies fn, and persists the result.
func withGraph(fn func(*trace.Graph) error) error {
	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()
	graph, err := st.LoadGraph()
	if err != nil {
		return err
	}
	if err := fn(graph); err != nil {
		return err
	}
	return st.SaveGraph(graph)
}

// withRegistry loads the registry, applies fn, and persists the result.
func withRegistry(fn func(*certify.Registry) error) error {
	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()
	reg, err := st.LoadRegistry()
	if err != nil {
		return err
	}
	if err := fn(reg); err != nil {
		return err
	}
	return st.SaveRegistry(reg)
}

// graphCmd groups traceability graph mutations.
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Edit the traceability graph",
}

var requirementCategory string

var graphAddRequirementCmd = &cobra.Command{
	Use:   "add-requirement [id] [description]",
	Short: "Register a safety requirement",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(g *trace.Graph) error {
			return g.AddRequirement(args[0], args[1], requirementCategory)
		})
	},
}

var graphAddVerificationCmd = &cobra.Command{
	Use:   "add-verification [id] [requirement] [description]",
	Short: "Register a verification objective covering a requirement",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(g *trace.Graph) error {
			return g.AddVerification(args[0], args[1], args[2])
		})
	},
}

var graphAddTestCmd = &cobra.Command{
	Use:   "add-test [id] [verification] [description]",
	Short: "Register a test exercising a verification objective",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(g *trace.Graph) error {
			return g.AddTest(args[0], args[1], args[2])
		})
	},
}

var graphRecordCmd = &cobra.Command{
	Use:   "record [test] [passed|failed|pending]",
	Short: "Record a test run outcome",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(g *trace.Graph) error {
			return g.RecordTestResult(args[0], trace.TestStatus(strings.ToLower(args[1])))
		})
	},
}

var graphAddEvidenceCmd = &cobra.Command{
	Use:   "add-evidence [test] [ref]",
	Short: "Attach an evidence reference to a test",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(g *trace.Graph) error {
			return g.AddEvidence(args[0], args[1])
		})
	},
}

var graphRetireCmd = &cobra.Command{
	Use:   "retire [requirement]",
	Short: "Retire a requirement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(g *trace.Graph) error {
			return g.RetireRequirement(args[0])
		})
	},
}

var (
	changeTouch      []string
	changeRiskHigh   []string
	changeRiskMedium []string
)

// changeCmd applies a design change, invalidating downstream
// verification and revoking certified versions that touch the
// changed components.
var changeCmd = &cobra.Command{
	Use:   "change [description]",
	Short: "Apply a design change and propagate its impact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
		graph, err := st.LoadGraph()
		if err != nil {
			return err
		}
		reg, err := st.LoadRegistry()
		if err != nil {
			return err
		}

		prop := trace.NewPropagator(graph, reg)
		chg := trace.NewChange(args[0], changeTouch, changeRiskHigh, changeRiskMedium)
		if err := prop.ApplyChange(chg); err != nil {
			return err
		}
		if err := st.SaveGraph(graph); err != nil {
			return err
		}
		if err := st.SaveRegistry(reg); err != nil {
			return err
		}
		fmt.Printf("applied %s touching %s\n", chg.ID, strings.Join(chg.Touched, ", "))
		return nil
	},
}

var versionBase string

// versionCmd groups configuration version operations.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Manage configuration versions",
}

var versionCreateCmd = &cobra.Command{
	Use:   "create [version]",
	Short: "Create a configuration version, optionally from a base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(reg *certify.Registry) error {
			return reg.CreateVersion(args[0], versionBase)
		})
	},
}

var versionSetCmd = &cobra.Command{
	Use:   "set [version] [component] [value]",
	Short: "Set one component entry of a version",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(reg *certify.Registry) error {
			return reg.SetComponent(args[0], args[1], args[2])
		})
	},
}

// caseCmd groups safety case operations.
var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Manage safety cases",
}

var caseCreateCmd = &cobra.Command{
	Use:   "create [id] [version]",
	Short: "Create a draft safety case for a version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(reg *certify.Registry) error {
			return reg.CreateSafetyCase(args[0], args[1])
		})
	},
}

var caseAddEvidenceCmd = &cobra.Command{
	Use:   "add-evidence [id] [category] [ref]",
	Short: "Attach an evidence reference to a safety case",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(reg *certify.Registry) error {
			return reg.AddCaseEvidence(args[0], args[1], args[2])
		})
	},
}

var caseApproveCmd = &cobra.Command{
	Use:   "approve [id]",
	Short: "Approve a safety case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(reg *certify.Registry) error {
			return reg.ApproveSafetyCase(args[0])
		})
	},
}

// submitCmd acknowledges that an incident report reached the
// regulator, clearing its continuous obligation.
var submitCmd = &cobra.Command{
	Use:   "submit [sequence]",
	Short: "Acknowledge a submitted incident report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid sequence %q: %w", args[0], err)
		}
		st, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
		acks, err := st.LoadSubmissions()
		if err != nil {
			return err
		}
		sched := report.NewScheduler(nil)
		sched.RestoreSubmissions(acks)
		sched.MarkSubmitted(uint32(seq))
		if err := st.SaveSubmissions(sched.Submissions()); err != nil {
			return err
		}
		fmt.Printf("acknowledged incident %d\n", seq)
		return nil
	},
}

// queueCmd groups improvement queue operations.
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and advance the improvement queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List improvements",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
		queue, err := st.LoadImprovements()
		if err != nil {
			return err
		}
		for _, imp := range queue.Improvements() {
			component := imp.Component
			if component == "" {
				component = "-"
			}
			fmt.Printf("%s seq=%d %s/%s %s %s\n",
				imp.ID, imp.Sequence, imp.Category, imp.Priority, imp.Status, component)
		}
		return nil
	},
}

var queueNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the highest priority pending improvement",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
		queue, err := st.LoadImprovements()
		if err != nil {
			return err
		}
		imp, err := queue.NextHighestPriority()
		if err != nil {
			return err
		}
		fmt.Printf("%s seq=%d %s/%s\n", imp.ID, imp.Sequence, imp.Category, imp.Priority)
		return nil
	},
}

var queueAdvanceCmd = &cobra.Command{
	Use:   "advance [id] [status]",
	Short: "Advance an improvement to the next status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, to := args[0], improve.Status(strings.ToLower(args[1]))
		st, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
		queue, err := st.LoadImprovements()
		if err != nil {
			return err
		}
		if err := queue.Advance(id, to); err != nil {
			return err
		}
		if err := st.SaveImprovements(queue); err != nil {
			return err
		}
		fmt.Printf("%s -> %s\n", id, to)
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "certtrace.yaml", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	exportCmd.Flags().StringVarP(&exportDir, "out", "o", "reports", "directory for exported artifacts")
	obligationsCmd.Flags().BoolVarP(&obligationsWatch, "watch", "w", false, "hot reload rules and re-evaluate on an interval")
	obligationsCmd.Flags().DurationVar(&obligationsEvery, "interval", time.Minute, "re-evaluation interval in watch mode")

	graphAddRequirementCmd.Flags().StringVar(&requirementCategory, "category", "", "requirement category")
	changeCmd.Flags().StringSliceVar(&changeTouch, "touch", nil, "component ids the change touches")
	changeCmd.Flags().StringSliceVar(&changeRiskHigh, "risk-high", nil, "high risk component ids")
	changeCmd.Flags().StringSliceVar(&changeRiskMedium, "risk-medium", nil, "medium risk component ids")
	versionCreateCmd.Flags().StringVar(&versionBase, "base", "", "base version to copy components from")

	graphCmd.AddCommand(graphAddRequirementCmd, graphAddVerificationCmd, graphAddTestCmd,
		graphRecordCmd, graphAddEvidenceCmd, graphRetireCmd)
	versionCmd.AddCommand(versionCreateCmd, versionSetCmd)
	caseCmd.AddCommand(caseCreateCmd, caseAddEvidenceCmd, caseApproveCmd)
	queueCmd.AddCommand(queueListCmd, queueNextCmd, queueAdvanceCmd)
	rootCmd.AddCommand(initCmd, graphCmd, changeCmd, versionCmd, caseCmd, ingestCmd,
		statusCmd, certifyCmd, exportCmd, obligationsCmd, submitCmd, queueCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
