package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/noxlabs/noxrun/internal/generator"
	"github.com/noxlabs/noxrun/internal/model"
)

const (
	exitOK       = 0
	exitLoadFail = 1
	exitGenFail  = 2
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitLoadFail)
	}
}

func newRootCmd() *cobra.Command {
	var (
		modelPath     string
		tokenizerPath string
		maxTokens     int
		temperature   float64
		topP          float64
		topK          int
		repeatPenalty float64
		repeatLastN   int
		seed          int64
		systemPrompt  string
		prompt        string
		once          bool
	)

	cmd := &cobra.Command{
		Use:           "noxrun",
		Short:         "Run a GGUF model through the nox inference pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(generateOpts{
				modelPath:     modelPath,
				tokenizerPath: tokenizerPath,
				maxTokens:     maxTokens,
				temperature:   float32(temperature),
				topP:          float32(topP),
				topK:          topK,
				repeatPenalty: float32(repeatPenalty),
				repeatLastN:   repeatLastN,
				seed:          seed,
				systemPrompt:  systemPrompt,
				prompt:        prompt,
				once:          once,
			})
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "path to the GGUF model file (required)")
	cmd.Flags().StringVar(&tokenizerPath, "tokenizer", "", "path to a standalone GGUF tokenizer descriptor (defaults to the model's embedded tables)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 512, "maximum tokens to generate per turn")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.3, "sampling temperature (0 selects greedy argmax)")
	cmd.Flags().Float64Var(&topP, "top-p", 0, "nucleus sampling threshold (0 disables)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "top-k sampling cutoff (0 disables)")
	cmd.Flags().Float64Var(&repeatPenalty, "repeat-penalty", 1.1, "repetition penalty applied to recently sampled tokens")
	cmd.Flags().IntVar(&repeatLastN, "repeat-last-n", 64, "how many recent tokens the repetition penalty considers")
	cmd.Flags().Int64Var(&seed, "seed", 299792458, "sampler RNG seed")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt prepended to every turn")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text; reads a REPL from stdin when empty")
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first turn instead of entering a REPL")
	cmd.MarkFlagRequired("model")

	cmd.AddCommand(newInspectCmd())
	return cmd
}

type generateOpts struct {
	modelPath, tokenizerPath string
	maxTokens                int
	temperature, topP        float32
	topK                     int
	repeatPenalty            float32
	repeatLastN              int
	seed                     int64
	systemPrompt, prompt     string
	once                     bool
}

func runGenerate(opts generateOpts) error {
	var level slog.Level
	if v := os.Getenv("NOXRUN_LOG"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			level = slog.LevelInfo
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	gen, err := generator.New(generator.Options{
		ModelPath:     opts.modelPath,
		TokenizerPath: opts.tokenizerPath,
		Temperature:   opts.temperature,
		TopK:          opts.topK,
		TopP:          opts.topP,
		Seed:          opts.seed,
		SystemPrompt:  opts.systemPrompt,
		Logger:        logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load model: %v\n", err)
		os.Exit(exitLoadFail)
	}
	defer gen.Close()

	writer := bufio.NewWriter(os.Stdout)
	callback := func(ev generator.Event) {
		switch ev.Kind {
		case generator.EventToken:
			writer.WriteString(ev.Text)
			writer.Flush()
		case generator.EventDone:
			writer.Flush()
			fmt.Fprintln(os.Stdout)
		}
	}

	if opts.prompt != "" {
		if _, err := gen.Generate(opts.prompt, opts.maxTokens, opts.repeatPenalty, opts.repeatLastN, callback); err != nil {
			fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
			os.Exit(exitGenFail)
		}
		return nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := gen.Generate(line, opts.maxTokens, opts.repeatPenalty, opts.repeatLastN, callback); err != nil {
			fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
			os.Exit(exitGenFail)
		}
		if gen.ContextWarning() {
			fmt.Fprintf(os.Stderr, "(context %.0f%% full)\n", gen.ContextPercentage())
		}
		if opts.once {
			return nil
		}
	}
}

func newInspectCmd() *cobra.Command {
	var modelPath string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Load a GGUF model (weights included) and print its metadata as a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(modelPath)
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "", "path to the GGUF model file (required)")
	cmd.MarkFlagRequired("model")
	return cmd
}

func runInspect(modelPath string) error {
	mdl, err := model.Load(modelPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load model: %v\n", err)
		os.Exit(exitLoadFail)
	}
	defer mdl.Close()

	md := mdl.Metadata
	tb := tablewriter.NewWriter(os.Stdout)
	tb.SetHeader([]string{"field", "value"})
	tb.SetAlignment(tablewriter.ALIGN_LEFT)
	tb.SetAutoWrapText(false)
	tb.Append([]string{"name", md.Name})
	tb.Append([]string{"architecture", md.Architecture})
	tb.Append([]string{"layers", fmt.Sprintf("%d", md.NLayer)})
	tb.Append([]string{"embedding size", fmt.Sprintf("%d", md.NEmbd)})
	tb.Append([]string{"vocab size", fmt.Sprintf("%d", md.VocabSize)})
	tb.Append([]string{"context length", fmt.Sprintf("%d", md.ContextLength)})
	tb.Append([]string{"quantization", orNone(md.Quantization)})
	tb.Append([]string{"chat template", presence(md.ChatTemplate)})
	tb.Append([]string{"file size", fmt.Sprintf("%d bytes", md.FileSize)})
	tb.Render()
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func presence(s string) string {
	if s == "" {
		return "absent"
	}
	return "present"
}
