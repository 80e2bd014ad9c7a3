package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/sghaida/dic/internal/config"
	"github.com/sghaida/dic/internal/logging"
	"github.com/sghaida/dic/manifest"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const usage = `usage: dic <command> [flags]

commands:
  lint    check a service manifest for undefined references, alias chains and cycles
  graph   print the dependency order, preload order and graph hash

flags:
`

// palette holds the output colors. Instances are disabled individually so
// concurrent runs never touch color.NoColor.
type palette struct {
	red, yellow, green, bold, gray *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		red:    color.New(color.FgRed, color.Bold),
		yellow: color.New(color.FgYellow),
		green:  color.New(color.FgGreen),
		bold:   color.New(color.Bold),
		gray:   color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{p.red, p.yellow, p.green, p.bold, p.gray} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// errFindings is returned when lint reports problems; its message has
// already been printed.
var errFindings = errors.New("manifest has findings")

// run executes the command and returns an exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cmd := args[0]

	fs := pflag.NewFlagSet("dic "+cmd, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	fs.Usage = func() {
		_, _ = fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintln(stderr, "dic:", err)
		return 2
	}

	cfg, err := config.Load(fs)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	log := logging.New(cfg.Log, stderr).With().Str("command", cmd).Logger()
	pal := newPalette(!cfg.Log.NoColor && isTerminal(stdout))

	switch cmd {
	case "lint":
		err = lint(cfg, log, pal, stdout)
	case "graph":
		err = graph(cfg, log, pal, stdout)
	default:
		_, _ = fmt.Fprintf(stderr, "dic: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
	switch {
	case errors.Is(err, errFindings):
		return 1
	case err != nil:
		_, _ = fmt.Fprintln(stderr, pal.red.Sprint("error:"), err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func analyze(cfg *config.Config, log zerolog.Logger) (*manifest.Report, error) {
	f, err := manifest.ReadFile(cfg.Manifest)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("manifest", cfg.Manifest).Int("services", len(f.Services)).Msg("manifest read")
	return manifest.Analyze(f, manifest.WithLogger(log)), nil
}

func lint(cfg *config.Config, log zerolog.Logger, pal palette, w io.Writer) error {
	rep, err := analyze(cfg, log)
	if err != nil {
		return err
	}
	for _, e := range rep.Errors {
		_, _ = fmt.Fprintln(w, pal.red.Sprint("error:"), e)
	}
	for _, warn := range rep.Warnings {
		_, _ = fmt.Fprintln(w, pal.yellow.Sprint("warning:"), warn)
	}
	if !rep.OK() || cfg.Strict && len(rep.Warnings) > 0 {
		_, _ = fmt.Fprintf(w, "%s: %d error(s), %d warning(s)\n", cfg.Manifest, len(rep.Errors), len(rep.Warnings))
		return errFindings
	}
	_, _ = fmt.Fprintf(w, "%s %s: %d service(s), %d alias(es)\n",
		pal.green.Sprint("ok"), cfg.Manifest, len(rep.Plan.IDs()), len(rep.Plan.Aliases()))
	return nil
}

// graphDoc is the yaml rendering of a plan.
type graphDoc struct {
	Hash    string            `yaml:"hash"`
	Levels  [][]string        `yaml:"levels"`
	Preload []string          `yaml:"preload,omitempty"`
	Aliases map[string]string `yaml:"aliases,omitempty"`
}

func graph(cfg *config.Config, log zerolog.Logger, pal palette, w io.Writer) error {
	rep, err := analyze(cfg, log)
	if err != nil {
		return err
	}
	if !rep.OK() {
		for _, e := range rep.Errors {
			_, _ = fmt.Fprintln(w, pal.red.Sprint("error:"), e)
		}
		return errFindings
	}
	doc := graphDoc{
		Hash:    rep.Plan.Hash(),
		Levels:  rep.Plan.Levels(),
		Preload: rep.Plan.Preload(),
		Aliases: rep.Plan.Aliases(),
	}

	if cfg.Format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}

	_, _ = fmt.Fprintln(w, pal.bold.Sprint("hash:"), doc.Hash)
	_, _ = fmt.Fprintln(w, pal.bold.Sprint("levels:"))
	for i, ids := range doc.Levels {
		_, _ = fmt.Fprintf(w, "  %s %s\n", pal.gray.Sprintf("%d:", i), strings.Join(ids, ", "))
	}
	if len(doc.Preload) > 0 {
		_, _ = fmt.Fprintln(w, pal.bold.Sprint("preload:"), strings.Join(doc.Preload, ", "))
	}
	if len(doc.Aliases) > 0 {
		_, _ = fmt.Fprintln(w, pal.bold.Sprint("aliases:"))
		names := make([]string, 0, len(doc.Aliases))
		for a := range doc.Aliases {
			names = append(names, a)
		}
		slices.Sort(names)
		for _, a := range names {
			_, _ = fmt.Fprintf(w, "  %s -> %s\n", a, doc.Aliases[a])
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	return err == nil && stat.Mode()&os.ModeCharDevice != 0
}
