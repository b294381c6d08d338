package main

import (
	"context"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"caseline/internal/engine"
	"caseline/internal/render"
	"caseline/internal/timeline"
)

func timelineCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "timeline",
		Short: "Case timelines",
		Long: `A timeline groups a case's activity by the stage the case was in when each
activity happened. The current stage is expanded by default; a back-entered
move is flagged on its bucket header.`,
	}
	c.AddCommand(timelineShowCmd())
	return c
}

type timelineFlags struct {
	toggle   []string
	expand   []string
	collapse []string
	all      bool
	color    string
}

func timelineShowCmd() *cobra.Command {
	var f timelineFlags
	cmd := &cobra.Command{
		Use:   "show CASE_ID",
		Short: "Show a case timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tl, err := e.Timeline(ctx, args[0])
				if err != nil {
					return err
				}
				tl = applyTimelineFlags(tl, f)
				if jsonOutput() {
					return printJSON(tl)
				}
				return render.Timeline(os.Stdout, tl, render.Options{
					Now:   e.Clock(),
					Color: useColor(f.color, os.Stdout.Fd()),
				})
			})
		},
	}
	cmd.Flags().StringArrayVar(&f.toggle, "toggle", nil, "flip a stage bucket (repeatable; applied in order)")
	cmd.Flags().StringSliceVar(&f.expand, "expand", nil, "stage ids to expand")
	cmd.Flags().StringSliceVar(&f.collapse, "collapse", nil, "stage ids to collapse")
	cmd.Flags().BoolVar(&f.all, "all", false, "expand every bucket")
	cmd.Flags().StringVar(&f.color, "color", "auto", "auto, always or never")
	return cmd
}

// applyTimelineFlags runs the requested expand/collapse actions through a
// View: --all and --expand first, then --collapse, then each --toggle.
func applyTimelineFlags(tl timeline.Timeline, f timelineFlags) timeline.Timeline {
	v := timeline.NewView()
	v.Refresh(tl)
	if f.all {
		for _, b := range tl.Buckets {
			v.Set(b.Stage.ID, true)
		}
	}
	for _, id := range splitFlags(f.expand) {
		v.Set(id, true)
	}
	for _, id := range splitFlags(f.collapse) {
		v.Set(id, false)
	}
	for _, id := range f.toggle {
		v.Toggle(strings.TrimSpace(id))
	}
	return v.Timeline()
}

func useColor(mode string, fd uintptr) bool {
	switch strings.ToLower(mode) {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
