package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"monitorgen/internal/apis"
	"monitorgen/internal/codegen"
	"monitorgen/internal/config"
	"monitorgen/internal/inline"
	"monitorgen/internal/monitor"
	"monitorgen/internal/policy"
	"monitorgen/internal/project"
	"monitorgen/internal/sysexec"
)

// command describes a CLI subcommand.
type command struct {
	name  string
	short string
	usage string
	long  string
	nargs []int // Accepted argument counts.
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{
		name:  "compile",
		short: "Build the monitor APK",
		usage: "monitorgen compile <destinationDir> [descriptorFile]",
		long: `Generate interception code for every API in descriptorFile, splice it
into the monitor template project, build it with gradle and copy the
result to <destinationDir>/monitor.apk.

Without descriptorFile the bundled list of monitored APIs is used.
`,
		nargs: []int{1, 2},
		run:   runCompile,
	},
	{
		name:  "inline",
		short: "Inline the monitor loader into APKs",
		usage: "monitorgen inline <apkOrSourceDir> <outputDir>",
		long: `Inline the monitor loader into one APK, or into every *.apk directly
inside a directory. Each result is signed with the debug key and moved
to <outputDir>/<name>-inlined.apk. Existing *-inlined.apk inputs are
skipped.
`,
		nargs: []int{2},
		run:   runInline,
	},
	{
		name:  "policy",
		short: "Write an API policies file interactively",
		usage: "monitorgen policy <descriptorFile> <policyFile>",
		long: `Ask for the policy (Allow, Mock or Deny) of every API in descriptorFile
and write the answers to policyFile, the file the monitor reads on the
device. An empty answer keeps the policy already in policyFile.
`,
		nargs: []int{2},
		run:   runPolicy,
	},
}

// app carries the process-wide dependencies of every command.
type app struct {
	settings *config.Settings
	log      *slog.Logger
	out      io.Writer
	exec     sysexec.Executor
	prompt   func([]question) ([]string, error)
}

func newApp(root string, out, errOut io.Writer) (*app, error) {
	s, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	level, err := s.Level()
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
	return &app{
		settings: s,
		log:      log,
		out:      out,
		exec:     &sysexec.System{Timeout: s.Timeout, Logger: log},
		prompt:   promptQuestions,
	}, nil
}

func (c command) accepts(n int) bool {
	for _, want := range c.nargs {
		if n == want {
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "monitorgen: build and inline the DroidMate API monitor\n\n")
	fmt.Fprintf(w, "Usage:\n  monitorgen <command> [arguments]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", cmd.name, cmd.short)
	}
	fmt.Fprintf(w, "\nRun 'monitorgen help <command>' for details on a specific command.\n")
}

func printCommandHelp(w io.Writer, name string) {
	for _, cmd := range commands {
		if cmd.name == name {
			fmt.Fprintf(w, "Usage: %s\n\n%s", cmd.usage, cmd.long)
			return
		}
	}
	fmt.Fprintf(w, "monitorgen: unknown command %q\n\nRun 'monitorgen help' for usage.\n", name)
}

// newRootCmd turns the commands slice into a cobra command tree.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "monitorgen",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(c *cobra.Command, _ []string) {
			printUsage(c.OutOrStdout())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(a.out)
	root.SetHelpFunc(func(c *cobra.Command, _ []string) {
		if c == root {
			printUsage(c.OutOrStdout())
			return
		}
		printCommandHelp(c.OutOrStdout(), c.Name())
	})
	for _, cmd := range commands {
		cmd := cmd
		root.AddCommand(&cobra.Command{
			Use:   cmd.name,
			Short: cmd.short,
			Args:  cobra.ArbitraryArgs,
			RunE: func(c *cobra.Command, args []string) error {
				if !cmd.accepts(len(args)) {
					printCommandHelp(c.OutOrStdout(), cmd.name)
					return nil
				}
				return cmd.run(c.Context(), a, args)
			},
		})
	}
	return root
}

func dispatch(ctx context.Context, a *app, args []string) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil && strings.HasPrefix(err.Error(), "unknown command") {
		return fmt.Errorf("%w\n\nRun 'monitorgen help' for usage.", err)
	}
	return err
}

// ---------------------------------------------------------------------------
// compile
// ---------------------------------------------------------------------------

func runCompile(ctx context.Context, a *app, args []string) error {
	var descriptors string
	if len(args) > 1 {
		descriptors = args[1]
	}
	s := a.settings
	opts := []monitor.Option{
		monitor.WithExecutor(a.exec),
		monitor.WithLogger(a.log),
		monitor.WithConstants(s.Constants()),
		monitor.WithWorkDir(s.WorkDir),
		monitor.WithBuildCommand(s.Build.Command...),
	}
	if s.Build.TemplateDir != "" {
		opts = append(opts, monitor.WithTemplate(project.Dir(s.Build.TemplateDir)))
	}
	apk, err := monitor.Compile(ctx, descriptors, args[0], opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Compiled apk moved to: %s\n", apk)
	return nil
}

// ---------------------------------------------------------------------------
// inline
// ---------------------------------------------------------------------------

func runInline(ctx context.Context, a *app, args []string) error {
	src, dst := args[0], args[1]
	t := a.settings.Tools
	in := inline.New(inline.Tools{
		Java:       t.Java,
		InlinerJar: t.InlinerJar,
		LoaderDex:  t.LoaderDex,
		Jarsigner:  t.Jarsigner,
		Keystore:   t.Keystore,
	},
		inline.WithExecutor(a.exec),
		inline.WithLogger(a.log),
		inline.WithConstants(a.settings.Constants()),
	)
	if _, err := in.Process(ctx, src, dst); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Inlined APK from %s into %s\n", src, dst)
	return nil
}

// ---------------------------------------------------------------------------
// policy
// ---------------------------------------------------------------------------

func runPolicy(_ context.Context, a *app, args []string) error {
	ds, err := apis.Load(args[0])
	if err != nil {
		return err
	}
	path := args[1]

	file := &policy.File{}
	if f, err := os.Open(path); err == nil {
		file, err = policy.Read(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	var questions []question
	for _, d := range ds {
		if strings.HasPrefix(d.ObjectClass, codegen.TestNamespace) {
			continue
		}
		sig := d.ShortSignature()
		questions = append(questions, question{
			key:     sig,
			prompt:  sig,
			current: file.Resolve(sig, nil),
		})
	}

	answers, err := a.prompt(questions)
	if err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	for i, q := range questions {
		p := q.current
		if answers[i] != "" {
			if p, err = policy.Parse(answers[i]); err != nil {
				return err
			}
		}
		file.Set(q.key, nil, p)
	}

	var sb strings.Builder
	if _, err := file.WriteTo(&sb); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(a.out, "wrote %d policies to %s\n", len(questions), path)
	return nil
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(".", os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitorgen: %v\n", err)
		return 1
	}
	if err := dispatch(ctx, a, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "monitorgen: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
