package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"tigsync/internal/delta"
	"tigsync/internal/errors"
	"tigsync/internal/pack"
	"tigsync/shared/utils"

	"github.com/spf13/cobra"
)

func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func indexPath(archive string) string { return archive + ".idx" }

func init() {
	var deltaCmd = &cobra.Command{
		Use:   "delta",
		Short: "Create and apply binary patches",
	}

	var window int
	var patchOut string
	var makeCmd = &cobra.Command{
		Use:   "make <base> <target>",
		Short: "Write a patch that turns base into target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			target, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			patch := delta.Make(base, target, window)
			data, err := json.Marshal(patch)
			if err != nil {
				return fmt.Errorf("encoding patch: %w", err)
			}
			if err := writeOutput(patchOut, data); err != nil {
				return err
			}

			st := patch.Stats()
			fmt.Fprintf(os.Stderr, "%d copy ops (%d bytes), %d insert ops (%d bytes)\n",
				st.CopyOps, st.CopiedBytes, st.InsertOps, st.InsertBytes)
			return nil
		},
	}
	makeCmd.Flags().IntVarP(&window, "window", "w", 16, "match window size")
	makeCmd.Flags().StringVarP(&patchOut, "output", "o", "-", "patch file")

	var applyOut string
	var applyCmd = &cobra.Command{
		Use:   "apply <base> <patch>",
		Short: "Rebuild a target from its base and a patch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var patch delta.Patch
			if err := json.Unmarshal(data, &patch); err != nil {
				return errors.ValidationError("invalid patch file", err.Error())
			}
			out, err := delta.Apply(base, &patch)
			if err != nil {
				return err
			}
			return writeOutput(applyOut, out)
		},
	}
	applyCmd.Flags().StringVarP(&applyOut, "output", "o", "-", "output file")

	deltaCmd.AddCommand(makeCmd)
	deltaCmd.AddCommand(applyCmd)

	var packCmd = &cobra.Command{
		Use:   "pack",
		Short: "Bundle files into compressed archives",
	}

	var level int
	var createCmd = &cobra.Command{
		Use:   "create <archive> <files...>",
		Short: "Pack files into archive and write archive.idx",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := pack.DefaultCompressionOptions()
			opts.Level = level
			p, err := pack.New(opts, logger)
			if err != nil {
				return err
			}

			blobs := make([]pack.Blob, 0, len(args)-1)
			for _, path := range args[1:] {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				blobs = append(blobs, pack.Blob{Path: filepath.ToSlash(path), Data: data})
			}
			archive, idx, err := p.PackBlobs(blobs)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := pack.WriteIndex(&buf, idx); err != nil {
				return err
			}
			if err := os.WriteFile(args[0], archive, 0o644); err != nil {
				return err
			}
			if err := os.WriteFile(indexPath(args[0]), buf.Bytes(), 0o644); err != nil {
				return err
			}
			fmt.Printf("Packed %d files into %s (%d bytes)\n", len(blobs), args[0], len(archive))
			return nil
		},
	}
	createCmd.Flags().IntVarP(&level, "level", "l", pack.DefaultCompressionOptions().Level, "compression level (1=fastest, 4=best)")

	var dest string
	var extractCmd = &cobra.Command{
		Use:   "extract <archive>",
		Short: "Verify an archive and unpack its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, idx, err := loadArchive(args[0])
			if err != nil {
				return err
			}
			p, err := pack.New(pack.DefaultCompressionOptions(), logger)
			if err != nil {
				return err
			}
			blobs, err := p.UnpackAll(archive, idx)
			if err != nil {
				return err
			}
			for _, b := range blobs {
				if !filepath.IsLocal(b.Path) {
					return errors.ValidationError(fmt.Sprintf("refusing to extract %q outside the destination", b.Path), nil)
				}
				target := filepath.Join(dest, filepath.FromSlash(b.Path))
				if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(target, b.Data, 0o644); err != nil {
					return err
				}
			}
			fmt.Printf("Extracted %d files into %s\n", len(blobs), dest)
			return nil
		},
	}
	extractCmd.Flags().StringVarP(&dest, "dest", "d", ".", "destination directory")

	var verifyCmd = &cobra.Command{
		Use:   "verify <archive>",
		Short: "Check an archive against its index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, idx, err := loadArchive(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: OK (%d entries)\n", args[0], len(idx.Entries))
			return nil
		},
	}

	packCmd.AddCommand(createCmd)
	packCmd.AddCommand(extractCmd)
	packCmd.AddCommand(verifyCmd)

	rootCmd.AddCommand(deltaCmd)
	rootCmd.AddCommand(packCmd)
}

// loadArchive reads an archive with its index and rejects it unless the
// checksum matches.
func loadArchive(path string) ([]byte, *pack.Index, error) {
	archive, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(indexPath(path))
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	idx, err := pack.ReadIndex(f)
	if err != nil {
		return nil, nil, err
	}
	if !idx.VerifyChecksum(archive) {
		return nil, nil, errors.Integrity(fmt.Sprintf("archive %s does not match its index", path), idx.Checksum, utils.HashContent(archive))
	}
	return archive, idx, nil
}
