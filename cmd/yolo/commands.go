package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/born-ml/yolo/internal/darknet"
	"github.com/born-ml/yolo/internal/loader"
	"github.com/born-ml/yolo/internal/model"
	"github.com/born-ml/yolo/internal/nn"
	"github.com/born-ml/yolo/internal/specs"
	"github.com/born-ml/yolo/internal/tensor"
	"github.com/spf13/cobra"
)

// app carries the state shared by every subcommand.
type app struct {
	out  io.Writer
	logW io.Writer

	logLevel  string
	logFormat string
	tables    string

	logger  *slog.Logger
	catalog *specs.Catalog
}

func newRootCmd(out, logW io.Writer) *cobra.Command {
	a := &app{out: out, logW: logW}
	root := &cobra.Command{
		Use:           "yolo",
		Short:         "Build YOLOv4 graphs and convert darknet weights",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetOut(out)
	root.SetErr(logW)

	flags := root.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", "info", "Logging level: debug, info, warn or error")
	flags.StringVar(&a.logFormat, "log-format", "text", "Log output format: text or json")
	flags.StringVar(&a.tables, "tables", "", "Extra layer tables (.hcl, .yaml or .yml) overlaid on the built-in ones")

	root.AddCommand(
		a.versionCmd(),
		a.tablesCmd(),
		a.summaryCmd(),
		a.importCmd(),
		a.exportCmd(),
	)
	return root
}

func (a *app) setup() error {
	logger, err := newLogger(a.logLevel, a.logFormat, a.logW)
	if err != nil {
		return err
	}
	a.logger = logger

	catalog, err := specs.Builtin()
	if err != nil {
		return err
	}
	if a.tables != "" {
		user, err := loadTables(a.tables)
		if err != nil {
			return err
		}
		catalog = catalog.Merge(user)
		a.logger.Debug("loaded extra tables", "path", a.tables, "tables", user.Names())
	}
	a.catalog = catalog
	return nil
}

func loadTables(path string) (*specs.Catalog, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return specs.LoadHCL(path)
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		t, err := specs.ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return specs.NewCatalog(t), nil
	default:
		return nil, fmt.Errorf("tables file %s: unknown extension, want .hcl, .yaml or .yml", path)
	}
}

// modelFlags are shared by the commands that build a model.
type modelFlags struct {
	variant string
	input   string
}

func (f *modelFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.variant, "variant", "yolov4", fmt.Sprintf("Model variant (%s)", strings.Join(model.Names(), ", ")))
	cmd.Flags().StringVar(&f.input, "input", "", "Input shape, H,W,C or N,H,W,C (default: the variant's)")
}

func (a *app) build(f modelFlags, rnd *rand.Rand) (*model.Model, error) {
	opts := model.Options{Catalog: a.catalog, Logger: a.logger, Rand: rnd}
	if f.input != "" {
		shape, err := tensor.ParseShape(f.input)
		if err != nil {
			return nil, err
		}
		if len(shape) == 3 {
			shape = append(tensor.Shape{1}, shape...)
		}
		opts.Input = shape
	}
	return model.NewVariant(f.variant, opts)
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(a.out, "yolo %s\n", version)
			return err
		},
	}
}

func (a *app) tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List layer tables, variants and block kinds",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tINPUTS\tLAYERS")
			for _, name := range a.catalog.Names() {
				t, err := a.catalog.Load(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\n", t.Name(), t.Inputs(), t.Len())
			}

			fmt.Fprintln(tw, "\nVARIANT\tBACKBONE\tNECK\tHEAD\tSPLITS")
			for _, name := range model.Names() {
				v, err := model.Lookup(name)
				if err != nil {
					return err
				}
				neck := v.Neck
				if neck == "" {
					neck = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d,%d\n", v.Name, v.Backbone, neck, v.Head, v.Splits[0], v.Splits[1])
			}

			fmt.Fprintf(tw, "\nkinds: %s\n", strings.Join(nn.NewRegistry().Kinds(), ", "))
			fmt.Fprintf(tw, "activations: %s\n", strings.Join(nn.Activations(), ", "))
			return tw.Flush()
		},
	}
}

func (a *app) summaryCmd() *cobra.Command {
	var f modelFlags
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print every layer of a variant with its parameter shapes",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			m, err := a.build(f, nil)
			if err != nil {
				return err
			}
			_, err = m.Summary(a.out)
			return err
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	var (
		f            modelFlags
		cfgPath      string
		weightsPath  string
		trailing     string
		splits       []int
		backboneOnly bool
		mappings     bool
		save         string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load darknet weights into a variant",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			opts := model.DefaultLoadOptions()
			opts.Head = !backboneOnly
			policy, err := darknet.ParseTrailingPolicy(trailing)
			if err != nil {
				return err
			}
			opts.Trailing = policy
			switch len(splits) {
			case 0:
			case 2:
				opts.Splits = [2]int{splits[0], splits[1]}
			default:
				return fmt.Errorf("--split wants two boundaries, got %d", len(splits))
			}

			m, err := a.build(f, nil)
			if err != nil {
				return err
			}
			v := m.Variant()
			if cfgPath == "" {
				cfgPath = v.CfgFile
			}
			if weightsPath == "" {
				weightsPath = v.WeightsFile
			}

			report, err := m.LoadDarknetWeights(cfgPath, weightsPath, opts)
			if report != nil {
				a.printReport(report, mappings)
			}
			if err != nil {
				var ie *loader.ImportError
				if errors.As(err, &ie) {
					a.logger.Error("import failed", "layer", ie.Layer, "name", ie.Name, "role", ie.Role.String(), "block", ie.Block)
				}
				return err
			}

			if save != "" {
				if err := m.SaveCheckpoint(save); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "checkpoint %s\n", save)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&cfgPath, "cfg", "", "Darknet cfg file (default: the variant's)")
	cmd.Flags().StringVar(&weightsPath, "weights", "", "Darknet weights file (default: the variant's)")
	cmd.Flags().StringVar(&trailing, "trailing", "error", "Bytes after the last value: error, warn or ignore")
	cmd.Flags().IntSliceVar(&splits, "split", nil, "Section boundaries between backbone, neck and head, e.g. 106,138")
	cmd.Flags().BoolVar(&backboneOnly, "backbone-only", false, "Import the backbone segment only")
	cmd.Flags().BoolVar(&mappings, "mappings", false, "Print which darknet layer fed each graph layer")
	cmd.Flags().StringVar(&save, "save", "", "Write the imported parameters to a checkpoint file")
	return cmd
}

func (a *app) printReport(r *model.ImportReport, mappings bool) {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "import %s\tvariant %s\tweights v%d.%d.%d\tseen %d\n",
		r.ID, r.Variant, r.Header.Major, r.Header.Minor, r.Header.Revision, r.Header.Seen)
	fmt.Fprintln(tw, "SEGMENT\tSECTIONS\tBLOCKS\tLAYERS")
	for _, s := range r.Segments {
		layers := fmt.Sprint(s.Layers)
		if s.Skipped {
			layers = "skipped"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", s.Stage, s.Sections, s.Blocks, layers)
	}
	fmt.Fprintf(tw, "total\t%d\t\t%d\n", r.Sections, r.Layers())
	_ = tw.Flush()
	if mappings {
		fmt.Fprint(a.out, loader.FormatMappings(r.Mappings))
	}
}

func (a *app) exportCmd() *cobra.Command {
	var (
		f           modelFlags
		cfgPath     string
		weightsPath string
		checkpoint  string
		seed        int64
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a variant as a darknet cfg and weights pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rnd *rand.Rand
			if cmd.Flags().Changed("seed") {
				rnd = rand.New(rand.NewSource(seed)) //nolint:gosec // weight initialization
			}
			m, err := a.build(f, rnd)
			if err != nil {
				return err
			}
			if checkpoint != "" {
				n, err := m.LoadCheckpoint(checkpoint)
				if err != nil {
					return err
				}
				a.logger.Info("restored checkpoint", "path", checkpoint, "parameters", n)
			}
			v := m.Variant()
			if cfgPath == "" {
				cfgPath = v.CfgFile
			}
			if weightsPath == "" {
				weightsPath = v.WeightsFile
			}
			if err := m.ExportDarknet(cfgPath, weightsPath); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "wrote %s and %s\n", cfgPath, weightsPath)
			return err
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&cfgPath, "cfg", "", "Output cfg file (default: the variant's)")
	cmd.Flags().StringVar(&weightsPath, "weights", "", "Output weights file (default: the variant's)")
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "Restore parameters from a checkpoint before exporting")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Initialize kernels randomly with this seed")
	return cmd
}
