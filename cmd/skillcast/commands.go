package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/skillcast/internal/model"
	"github.com/verte-zerg/skillcast/internal/readiness"
	"github.com/verte-zerg/skillcast/internal/screen/robot"
	"github.com/verte-zerg/skillcast/internal/stats"
)

var (
	statsSince string
	statsLast  int
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "List or switch rotation profiles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE:  runProfileListCmd,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "use <name>",
		Short: "Create a profile if needed and make it current",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfileUseCmd,
	})
	return cmd
}

func runProfileListCmd(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd, true)
	if err != nil {
		return err
	}
	defer rt.close()

	current := rt.profiles.CurrentProfile()
	for _, name := range rt.profiles.Profiles() {
		marker := " "
		if name == current {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s (%d skills)", marker, name, len(rt.profiles.Skills(name)))
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func runProfileUseCmd(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd, true)
	if err != nil {
		return err
	}
	defer rt.close()

	if _, err := rt.profiles.SetCurrentProfile(args[0]); err != nil {
		return err
	}
	// The document has no slot for the current profile, so the choice only
	// sticks through --profile or [profile] default.
	logErrf("Profile %q is ready. Start with --profile %q or set [profile] default to keep it.\n", args[0], args[0])
	return nil
}

func newSkillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skill",
		Short: "Manage the skills of a profile",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List skills",
		Args:  cobra.NoArgs,
		RunE:  runSkillListCmd,
	})
	addCmd := &cobra.Command{
		Use:   "add <name> <key> <delay-ms>",
		Short: "Append a skill, sampling its reference colors from the screen",
		Args:  cobra.ExactArgs(3),
		RunE:  runSkillAddCmd,
	}
	addCmd.Flags().IntVar(&flagDisplay, "display", -1, "display index for pixel sampling (-1 = main)")
	cmd.AddCommand(addCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <index>",
		Short: "Remove a skill by its listed index",
		Args:  cobra.ExactArgs(1),
		RunE:  runSkillRmCmd,
	})
	return cmd
}

func runSkillListCmd(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd, true)
	if err != nil {
		return err
	}
	defer rt.close()

	name := rt.profiles.CurrentProfile()
	skills := rt.profiles.Skills(name)
	if len(skills) == 0 {
		logErrf("Profile %q has no skills.\n", name)
		return nil
	}
	rows := make([][]string, 0, len(skills))
	for i, s := range skills {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			s.Name,
			s.Key,
			strconv.Itoa(s.Delay),
			fmt.Sprintf("(%d, %d)", s.CX, s.CY),
			readiness.Describe(s),
		})
	}
	headers := []string{"#", "Skill", "Key", "Delay", "Center", "Reference"}
	if err := stats.WriteTable(cmd.OutOrStdout(), headers, rows, 0, 3); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func runSkillAddCmd(cmd *cobra.Command, args []string) error {
	delay, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid delay %q: %w", args[2], err)
	}
	rt, err := openRuntime(cmd, true)
	if err != nil {
		return err
	}
	defer rt.close()

	skill, err := rt.profiles.AddSkill(rt.profiles.CurrentProfile(), args[0], args[1], delay, robot.New(flagDisplay))
	if err != nil {
		return err
	}
	status := "uncalibrated"
	if skill.Calibrated() {
		status = "reference " + readiness.Describe(skill)
	}
	logErrf("Added %s [%s] to %q (%s)\n", skill.Name, skill.Key, rt.profiles.CurrentProfile(), status)
	return nil
}

func runSkillRmCmd(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil || index < 1 {
		return fmt.Errorf("index must be a positive number")
	}
	rt, err := openRuntime(cmd, true)
	if err != nil {
		return err
	}
	defer rt.close()

	removed, err := rt.profiles.DeleteSkill(rt.profiles.CurrentProfile(), index-1)
	if err != nil {
		return err
	}
	if !removed {
		logErrf("No skill #%d in %q.\n", index, rt.profiles.CurrentProfile())
	}
	return nil
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cast statistics",
		Args:  cobra.NoArgs,
		RunE:  runStatsCmd,
	}
	cmd.Flags().StringVar(&statsSince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&statsLast, "last", 0, "limit to last N runs")
	return cmd
}

func runStatsCmd(cmd *cobra.Command, _ []string) error {
	filter, err := statsFilter(cmd)
	if err != nil {
		return err
	}
	journal, err := openJournal()
	if err != nil {
		return err
	}
	defer closeJournal(journal)

	report, err := stats.BuildReport(cmd.Context(), journal, filter)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	return stats.RenderReport(cmd.OutOrStdout(), report, stats.TerminalWidth(), time.Now())
}

func statsFilter(cmd *cobra.Command) (model.RunFilter, error) {
	filter := model.RunFilter{Last: statsLast}
	if statsLast < 0 {
		return filter, fmt.Errorf("--last must be >= 0")
	}
	if statsSince != "" {
		parsed, err := time.ParseInLocation("2006-01-02", statsSince, time.Local)
		if err != nil {
			return filter, fmt.Errorf("invalid --since value: %w", err)
		}
		filter.Since = &parsed
	}
	if cmd.Flags().Changed("profile") {
		filter.Profile = flagProfile
	}
	return filter, nil
}

