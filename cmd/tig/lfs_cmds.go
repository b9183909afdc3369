package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"tigsync/client"
	"tigsync/internal/diff"
	"tigsync/internal/lfs"
	"tigsync/internal/repo"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type lfsSession struct {
	repo  *repo.Repository
	store *lfs.Store
}

func openLFS() (*lfsSession, error) {
	r, err := openRepo()
	if err != nil {
		return nil, err
	}
	store, err := lfs.Open(r, logger)
	if err != nil {
		return nil, err
	}
	return &lfsSession{repo: r, store: store}, nil
}

// rel turns a command line path into a slash-separated path relative to
// the working directory root.
func (s *lfsSession) rel(arg string) (string, error) {
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.repo.WorkDir(), abs)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%s is outside the repository", arg)
	}
	return filepath.ToSlash(rel), nil
}

func (s *lfsSession) rels(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		rel, err := s.rel(a)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

// pointerFiles lists the tracked files whose content is pointer text.
func (s *lfsSession) pointerFiles() ([]string, error) {
	tree, err := diff.LoadTree(s.repo.WorkDir(), func(rel string) bool { return rel == repo.DirName })
	if err != nil {
		return nil, err
	}
	var paths []string
	for path, data := range tree {
		if !lfs.IsPointerText(data) {
			continue
		}
		tracked, err := s.store.IsTracked(path)
		if err != nil {
			return nil, err
		}
		if tracked {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *lfsSession) remote() (*client.Client, error) {
	return s.store.Remote(client.WithLogger(logger))
}

func newBar(size int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
}

func init() {
	var lfsCmd = &cobra.Command{
		Use:   "lfs",
		Short: "Store large files as chunked pointers",
	}

	var trackCmd = &cobra.Command{
		Use:   "track [patterns...]",
		Short: "Track glob patterns as large files, or list tracked patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLFS()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				patterns, err := s.store.Patterns()
				if err != nil {
					return err
				}
				fmt.Println("Tracked patterns:")
				for _, p := range patterns {
					fmt.Println("  " + p)
				}
				return nil
			}
			for _, p := range args {
				added, err := s.store.Track(p)
				if err != nil {
					return err
				}
				if added {
					fmt.Printf("Tracking %q\n", p)
				} else {
					fmt.Printf("%q already tracked\n", p)
				}
			}
			return nil
		},
	}

	var untrackCmd = &cobra.Command{
		Use:   "untrack <patterns...>",
		Short: "Stop tracking glob patterns",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLFS()
			if err != nil {
				return err
			}
			for _, p := range args {
				removed, err := s.store.Untrack(p)
				if err != nil {
					return err
				}
				if removed {
					fmt.Printf("Untracking %q\n", p)
				} else {
					fmt.Printf("%q was not tracked\n", p)
				}
			}
			return nil
		},
	}

	var cleanCmd = &cobra.Command{
		Use:   "clean <paths...>",
		Short: "Replace tracked files with pointers, storing their content as chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilter(cmd.Context(), args, func(ctx context.Context, s *lfsSession, rel string) (*lfs.Pointer, lfs.Status, error) {
				return s.store.Clean(ctx, rel)
			})
		},
	}

	var smudgeCmd = &cobra.Command{
		Use:   "smudge <paths...>",
		Short: "Replace pointers with their content from the local chunk store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilter(cmd.Context(), args, func(ctx context.Context, s *lfsSession, rel string) (*lfs.Pointer, lfs.Status, error) {
				return s.store.Smudge(ctx, rel)
			})
		},
	}

	var concurrency int
	var pushCmd = &cobra.Command{
		Use:   "push [paths...]",
		Short: "Upload the chunks of pointer files the remote is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLFS()
			if err != nil {
				return err
			}
			paths, err := s.targets(args)
			if err != nil {
				return err
			}
			remote, err := s.remote()
			if err != nil {
				return err
			}

			for _, rel := range paths {
				oid, err := s.store.PointerOf(rel)
				if err != nil {
					return err
				}
				ptr, err := s.store.LoadPointer(cmd.Context(), oid)
				if err != nil {
					return err
				}
				bar := newBar(ptr.Size, "push "+rel)
				res, err := s.store.PushFile(cmd.Context(), remote, rel, lfs.TransferOptions{
					Concurrency: concurrency,
					Progress:    func(n int) { bar.Add(n) },
				})
				bar.Finish()
				if err != nil {
					return fmt.Errorf("pushing %s: %w", rel, err)
				}
				fmt.Printf("%s: %d chunks uploaded, %d already present\n", rel, len(res.Uploaded), res.Skipped)
			}
			return nil
		},
	}
	pushCmd.Flags().IntVarP(&concurrency, "concurrency", "j", lfs.DefaultConcurrency, "parallel chunk transfers")

	var pullCmd = &cobra.Command{
		Use:   "pull [paths...]",
		Short: "Download the objects of pointer files and smudge them",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLFS()
			if err != nil {
				return err
			}
			paths, err := s.targets(args)
			if err != nil {
				return err
			}
			remote, err := s.remote()
			if err != nil {
				return err
			}

			for _, rel := range paths {
				data, err := os.ReadFile(filepath.Join(s.repo.WorkDir(), filepath.FromSlash(rel)))
				if err != nil {
					return err
				}
				_, size, err := lfs.ParsePointerText(data)
				if err != nil {
					return err
				}
				bar := newBar(size, "pull "+rel)
				ptr, err := s.store.PullFile(cmd.Context(), remote, rel, lfs.TransferOptions{
					Concurrency: concurrency,
					Progress:    func(n int) { bar.Add(n) },
				})
				bar.Finish()
				if err != nil {
					return fmt.Errorf("pulling %s: %w", rel, err)
				}
				fmt.Printf("%s: %d bytes restored\n", rel, ptr.Size)
			}
			return nil
		},
	}
	pullCmd.Flags().IntVarP(&concurrency, "concurrency", "j", lfs.DefaultConcurrency, "parallel chunk transfers")

	var owner string
	var lockCmd = &cobra.Command{
		Use:   "lock <path>",
		Short: "Claim an advisory lock on the remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLFS()
			if err != nil {
				return err
			}
			rel, err := s.rel(args[0])
			if err != nil {
				return err
			}
			remote, err := s.remote()
			if err != nil {
				return err
			}
			lock, err := remote.Lock(cmd.Context(), rel, owner)
			if err != nil {
				return err
			}
			fmt.Printf("Locked %s for %s\n", lock.Path, lock.Owner)
			return nil
		},
	}
	lockCmd.Flags().StringVar(&owner, "owner", defaultAuthor(), "lock owner")

	var unlockCmd = &cobra.Command{
		Use:   "unlock <path>",
		Short: "Release advisory locks on the remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLFS()
			if err != nil {
				return err
			}
			rel, err := s.rel(args[0])
			if err != nil {
				return err
			}
			remote, err := s.remote()
			if err != nil {
				return err
			}
			removed, err := remote.Unlock(cmd.Context(), rel, owner)
			if err != nil {
				return err
			}
			if removed == 0 {
				fmt.Printf("No lock on %s held by %s\n", rel, owner)
				return nil
			}
			fmt.Printf("Unlocked %s (%d removed)\n", rel, removed)
			return nil
		},
	}
	unlockCmd.Flags().StringVar(&owner, "owner", defaultAuthor(), "lock owner")

	var locksCmd = &cobra.Command{
		Use:   "locks",
		Short: "List advisory locks on the remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLFS()
			if err != nil {
				return err
			}
			remote, err := s.remote()
			if err != nil {
				return err
			}
			locks, err := remote.Locks(cmd.Context())
			if err != nil {
				return err
			}
			if len(locks) == 0 {
				fmt.Println("No locks")
				return nil
			}
			cyan := color.New(color.FgCyan).SprintFunc()
			for _, l := range locks {
				fmt.Printf("%-40s %s  %s\n", l.Path, cyan(l.Owner), l.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	var settle time.Duration
	var watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Clean tracked files automatically as they are written",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLFS()
			if err != nil {
				return err
			}
			w, err := s.store.Watch(settle)
			if err != nil {
				return err
			}
			defer w.Close()

			fmt.Println("Watching", s.repo.WorkDir(), "(Ctrl-C to stop)")
			green := color.New(color.FgGreen).SprintFunc()
			return w.Run(cmd.Context(), func(rel string, ptr *lfs.Pointer) {
				fmt.Printf("%s: %s (%s, %d bytes)\n", rel, green(string(lfs.StatusCleaned)), shortHash(ptr.OID), ptr.Size)
			})
		},
	}
	watchCmd.Flags().DurationVar(&settle, "settle", lfs.DefaultSettle, "quiet period before a written file is cleaned")

	lfsCmd.AddCommand(trackCmd, untrackCmd, cleanCmd, smudgeCmd, pushCmd, pullCmd, lockCmd, unlockCmd, locksCmd, watchCmd)
	rootCmd.AddCommand(lfsCmd)
}

// targets resolves explicit paths, or every tracked pointer file when none
// are given.
func (s *lfsSession) targets(args []string) ([]string, error) {
	if len(args) > 0 {
		return s.rels(args)
	}
	paths, err := s.pointerFiles()
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		fmt.Println("No pointer files to transfer")
	}
	return paths, nil
}

func runFilter(ctx context.Context, args []string, fn func(context.Context, *lfsSession, string) (*lfs.Pointer, lfs.Status, error)) error {
	s, err := openLFS()
	if err != nil {
		return err
	}
	paths, err := s.rels(args)
	if err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	for _, rel := range paths {
		ptr, status, err := fn(ctx, s, rel)
		if err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		if ptr == nil {
			fmt.Printf("%s: %s\n", rel, status)
			continue
		}
		fmt.Printf("%s: %s (%s, %d bytes, %d chunks)\n", rel, green(string(status)), shortHash(ptr.OID), ptr.Size, len(ptr.Chunks))
	}
	return nil
}
