package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/RankWatch/internal/pipeline"
	"github.com/IshaanNene/RankWatch/internal/types"
)

// inputFlags are the Step 1 inputs shared by step1 and run.
type inputFlags struct {
	site       string
	page       string
	title      string
	keywords   []string
	maxKw      int
	noDetect   bool
	inputFile  string
	runID      string
	useBrowser bool
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.site, "site", "", "search-console property, e.g. sc-domain:example.com")
	cmd.Flags().StringVar(&f.page, "page", "", "absolute URL of the page to analyze")
	cmd.Flags().StringVar(&f.title, "title", "", "article title, boosts keywords it contains")
	cmd.Flags().StringSliceVarP(&f.keywords, "keyword", "k", nil, "keyword to analyze instead of the prioritized ones (repeatable)")
	cmd.Flags().IntVar(&f.maxKw, "max-keywords", 0, "number of keywords to keep (0 = config default)")
	cmd.Flags().BoolVar(&f.noDetect, "no-detect", false, "skip rank-drop detection and use the latest window")
	cmd.Flags().StringVar(&f.inputFile, "input", "", "read the Step 1 input as JSON from this file instead of flags")
	cmd.Flags().StringVar(&f.runID, "run-id", "", "run identifier (generated when empty)")
	cmd.Flags().BoolVar(&f.useBrowser, "browser", false, "render pages in the headless browser")
}

// input builds the Step 1 input over the pipeline defaults.
func (f *inputFlags) input(a *app) (pipeline.Step1Input, error) {
	defaults := a.pipeline.DefaultInput(f.site, f.page)
	if f.inputFile != "" {
		data, err := os.ReadFile(f.inputFile)
		if err != nil {
			return pipeline.Step1Input{}, fmt.Errorf("read input: %w", err)
		}
		in, err := pipeline.DecodeStep1Input(data, defaults)
		if err != nil {
			return pipeline.Step1Input{}, err
		}
		if f.runID != "" {
			in.RunID = f.runID
		}
		return *in, nil
	}

	in := defaults
	in.RunID = f.runID
	in.ArticleTitle = f.title
	in.SelectedKeywords = f.keywords
	if f.maxKw > 0 {
		in.MaxKeywords = f.maxKw
	}
	if f.noDetect {
		in.DetectDrop = false
	}
	return in, in.Validate()
}

func detectCmd() *cobra.Command {
	var site, page string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Compare the current and base rank windows of a page",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := a.pipeline.DefaultInput(site, page).Detection
			res, err := a.pipeline.DetectDrop(cmd.Context(), site, page, opts)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "search-console property")
	cmd.Flags().StringVar(&page, "page", "", "absolute URL of the page")
	cmd.MarkFlagRequired("site")
	cmd.MarkFlagRequired("page")
	return cmd
}

func step1Cmd() *cobra.Command {
	var f inputFlags
	cmd := &cobra.Command{
		Use:   "step1",
		Short: "Detect the drop and select keywords",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			in, err := f.input(a)
			if err != nil {
				return err
			}
			out, err := a.pipeline.Step1(cmd.Context(), in, a.options(f.useBrowser))
			if err != nil {
				return report(err)
			}
			path, err := a.state.Save(out.RunID, pipeline.KindStep1, out)
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %d keywords selected, state in %s\n", out.RunID, len(out.Keywords), path)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func step2Cmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "step2",
		Short: "Find the competitors for the selected keywords",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := a.state.Load(runID, pipeline.KindStep1)
			if err != nil {
				return err
			}
			s1, err := pipeline.DecodeStep1(data)
			if err != nil {
				return err
			}
			out, err := a.pipeline.Step2(cmd.Context(), s1, a.options(false))
			if err != nil {
				return report(err)
			}
			path, err := a.state.Save(out.RunID, pipeline.KindStep2, out)
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %d competitor URLs, state in %s\n", out.RunID, len(out.UniqueCompetitorURLs), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier from step1")
	cmd.MarkFlagRequired("run-id")
	return cmd
}

func step3Cmd() *cobra.Command {
	var runID string
	var useBrowser bool
	cmd := &cobra.Command{
		Use:   "step3",
		Short: "Scrape, diff and explain the competitors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := a.state.Load(runID, pipeline.KindStep2)
			if err != nil {
				return err
			}
			s2, err := pipeline.DecodeStep2(data)
			if err != nil {
				return err
			}
			res, err := a.pipeline.Step3(cmd.Context(), s2, a.options(useBrowser))
			if err != nil {
				return report(err)
			}
			if err := a.persist(cmd.Context(), res); err != nil {
				return err
			}
			return printJSON(res.Summary())
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier from step1")
	cmd.Flags().BoolVar(&useBrowser, "browser", false, "render pages in the headless browser")
	cmd.MarkFlagRequired("run-id")
	return cmd
}

// runCmd runs all steps, saving each state so a timed-out run can be
// resumed with the same --run-id.
func runCmd() *cobra.Command {
	var f inputFlags
	var clean bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all three steps, resuming from saved state when present",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			opts := a.options(f.useBrowser)

			var s1 *pipeline.Step1Output
			if f.runID != "" && a.state.Has(f.runID, pipeline.KindStep1) {
				data, err := a.state.Load(f.runID, pipeline.KindStep1)
				if err != nil {
					return err
				}
				if s1, err = pipeline.DecodeStep1(data); err != nil {
					return err
				}
				logger.Info("resuming from saved step1", "run_id", f.runID)
			} else {
				in, err := f.input(a)
				if err != nil {
					return err
				}
				if s1, err = a.pipeline.Step1(ctx, in, opts); err != nil {
					return report(err)
				}
				if _, err := a.state.Save(s1.RunID, pipeline.KindStep1, s1); err != nil {
					return err
				}
			}

			var s2 *pipeline.Step2Output
			if a.state.Has(s1.RunID, pipeline.KindStep2) {
				data, err := a.state.Load(s1.RunID, pipeline.KindStep2)
				if err != nil {
					return err
				}
				if s2, err = pipeline.DecodeStep2(data); err != nil {
					return err
				}
				logger.Info("resuming from saved step2", "run_id", s1.RunID)
			} else {
				if s2, err = a.pipeline.Step2(ctx, s1, opts); err != nil {
					return report(err)
				}
				if _, err := a.state.Save(s2.RunID, pipeline.KindStep2, s2); err != nil {
					return err
				}
			}

			res, err := a.pipeline.Step3(ctx, s2, opts)
			if err != nil {
				return report(err)
			}
			if err := a.persist(ctx, res); err != nil {
				return err
			}
			if clean {
				if err := a.state.Clean(res.RunID); err != nil {
					logger.Warn("clean state", "run_id", res.RunID, "error", err)
				}
			}
			return printJSON(res.Summary())
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&clean, "clean", false, "remove step state files after a successful run")
	return cmd
}

// report adds resume guidance to timeout errors.
func report(err error) error {
	var te *types.TimeoutError
	if errors.As(err, &te) {
		fmt.Fprintf(os.Stderr, "deadline reached at %s; rerun from %s with the same --run-id\n", te.Stage, te.RetryFrom)
	}
	return err
}
