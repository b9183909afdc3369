package main

import (
	"fmt"
	"os"
	"time"

	"tigsync/internal/diff"
	"tigsync/internal/repo"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func defaultAuthor() string {
	if a := os.Getenv("TIG_AUTHOR"); a != "" {
		return a
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func init() {
	var initCmd = &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a new Tig repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			r, err := repo.Init(dir, repo.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("initializing repository: %w", err)
			}
			fmt.Println("Initialized empty Tig repository in", r.Root())
			return nil
		},
	}

	var message, author string
	var commitCmd = &cobra.Command{
		Use:   "commit",
		Short: "Record working tree changes on the current branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			c, err := r.Commit(message, author, time.Now())
			if err != nil {
				return err
			}

			branch, _, _ := r.CurrentBranch()
			fmt.Printf("[%s %s] %s\n", branch, shortHash(c.Hash), c.Message)
			for _, f := range c.Files {
				if f.From != "" {
					fmt.Printf("  %-8s %s -> %s\n", f.Operation, f.From, f.Path)
					continue
				}
				fmt.Printf("  %-8s %s\n", f.Operation, f.Path)
			}
			return nil
		},
	}
	commitCmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	commitCmd.Flags().StringVarP(&author, "author", "a", defaultAuthor(), "commit author")
	commitCmd.MarkFlagRequired("message")

	var limit int
	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show the commit history of the current branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			commits, err := r.Log(limit)
			if err != nil {
				return err
			}
			if len(commits) == 0 {
				fmt.Println("No commits yet")
				return nil
			}

			yellow := color.New(color.FgYellow).SprintFunc()
			for _, c := range commits {
				fmt.Printf("commit %s\n", yellow(c.Hash))
				fmt.Printf("Author: %s\n", c.Author)
				fmt.Printf("Date:   %s\n\n", c.Timestamp.Local().Format(time.RFC1123))
				fmt.Printf("    %s\n\n", c.Message)
			}
			return nil
		},
	}
	logCmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n commits")

	var granularity string
	var threshold float64
	var copies, stat bool
	var diffCmd = &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Compare two files, or two directories with rename and copy detection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldInfo, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			newInfo, err := os.Stat(args[1])
			if err != nil {
				return err
			}
			if oldInfo.IsDir() != newInfo.IsDir() {
				return fmt.Errorf("cannot compare a file with a directory")
			}
			if oldInfo.IsDir() {
				return diffTrees(args[0], args[1], diff.DetectOptions{Threshold: threshold, DetectCopies: copies})
			}

			g, err := diff.ParseGranularity(granularity)
			if err != nil {
				return err
			}
			oldContent, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			newContent, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			engine := diff.NewEngine(3)
			if g != diff.LineLevel {
				printInline(engine.Inline(oldContent, newContent, g))
				return nil
			}
			result, err := engine.Diff(oldContent, newContent)
			if err != nil {
				return fmt.Errorf("computing diff: %w", err)
			}
			if stat {
				fmt.Printf("%d additions, %d deletions\n", result.Stats.Additions, result.Stats.Deletions)
				return nil
			}
			fmt.Printf("--- %s\n+++ %s\n", args[0], args[1])
			printColoredDiff(result.Format())
			return nil
		},
	}
	diffCmd.Flags().StringVarP(&granularity, "granularity", "g", "line", "line, word or char")
	diffCmd.Flags().Float64Var(&threshold, "threshold", diff.DefaultThreshold, "minimum similarity for renames and copies")
	diffCmd.Flags().BoolVar(&copies, "copies", false, "detect copies when comparing directories")
	diffCmd.Flags().BoolVar(&stat, "stat", false, "only print line counts")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(diffCmd)
}

func printInline(segments []diff.Segment) {
	added := color.New(color.FgGreen, color.Underline)
	removed := color.New(color.FgRed, color.CrossedOut)
	if color.NoColor {
		fmt.Println(diff.FormatInline(segments))
		return
	}
	for _, s := range segments {
		switch s.Type {
		case diff.Addition:
			added.Print(s.Text)
		case diff.Deletion:
			removed.Print(s.Text)
		default:
			fmt.Print(s.Text)
		}
	}
	fmt.Println()
}

func diffTrees(oldDir, newDir string, opts diff.DetectOptions) error {
	skip := func(rel string) bool { return rel == repo.DirName }
	oldTree, err := diff.LoadTree(oldDir, skip)
	if err != nil {
		return err
	}
	newTree, err := diff.LoadTree(newDir, skip)
	if err != nil {
		return err
	}

	kinds := map[diff.ChangeKind]*color.Color{
		diff.Added:    color.New(color.FgGreen),
		diff.Deleted:  color.New(color.FgRed),
		diff.Modified: color.New(color.FgYellow),
		diff.Renamed:  color.New(color.FgCyan),
		diff.Copied:   color.New(color.FgBlue),
	}
	changes := diff.CompareTrees(oldTree, newTree, opts)
	if len(changes) == 0 {
		fmt.Println("No differences")
		return nil
	}
	for _, c := range changes {
		label := kinds[c.Kind].Sprintf("%-8s", c.Kind)
		switch c.Kind {
		case diff.Renamed, diff.Copied:
			fmt.Printf("%s %s -> %s (%.0f%%)\n", label, c.From, c.Path, c.Similarity*100)
		default:
			fmt.Printf("%s %s\n", label, c.Path)
		}
	}
	return nil
}
