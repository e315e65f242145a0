package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/qtune/pkg/qtune/loader"
	"github.com/jamesainslie/qtune/pkg/qtune/schema"
	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

var showCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Show the effective configuration of a tuning document",
	Long: `Show prints the document with every default applied, in canonical form.
Use -o json for JSON output.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var fmtCmd = &cobra.Command{
	Use:   "fmt <file>",
	Short: "Rewrite a tuning document in canonical form",
	Long: `Fmt prints the document normalized: enum values lower-cased, lists sorted
and de-duplicated. Defaults are not added. With --write the file is
rewritten in place.

Documents with syntax errors or unknown keys are refused, since formatting
would drop content.`,
	Args: cobra.ExactArgs(1),
	RunE: runFmt,
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a documented tuning document template",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

func init() {
	fmtCmd.Flags().BoolP("write", "W", false, "write the result to the file instead of stdout")
	fmtCmd.Flags().Bool("check", false, "exit 1 when the file is not in canonical form")
	initCmd.Flags().BoolP("force", "f", false, "overwrite an existing file")

	rootCmd.AddCommand(showCmd, fmtCmd, initCmd)
}

func runShow(_ *cobra.Command, args []string) error {
	doc, err := loader.LoadFile(args[0])
	if err != nil {
		return err
	}
	effective := loader.Normalize(doc.Effective())

	var out []byte
	switch outputFormat() {
	case "json":
		out, err = json.MarshalIndent(effective, "", "  ")
		out = append(out, '\n')
	default:
		out, err = loader.Marshal(effective)
	}
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runFmt(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	formatted, err := formatDocument(path, data)
	if err != nil {
		return err
	}

	write, _ := cmd.Flags().GetBool("write")
	check, _ := cmd.Flags().GetBool("check")
	changed := !bytes.Equal(data, formatted)

	switch {
	case check:
		if changed {
			printInfo("%s is not formatted", path)
			return errInvalidDocuments
		}
		return nil
	case write:
		if !changed {
			printVerbose("%s already formatted", path)
			return nil
		}
		if err := writeFileAtomic(path, formatted); err != nil {
			return err
		}
		printInfo("Formatted %s", path)
		return nil
	default:
		fmt.Print(string(formatted))
		return nil
	}
}

// formatDocument normalizes data. It refuses documents the encoder cannot
// reproduce without loss.
func formatDocument(path string, data []byte) ([]byte, error) {
	report := validate.New(reg).ValidateBytes(path, data)
	for _, code := range []string{validate.CodeSyntax, validate.CodeUnknownField, validate.CodeInvalidType} {
		if report.Has(code) {
			return nil, fmt.Errorf("cannot format %s: %s", path, firstMessage(report, code))
		}
	}

	doc, err := loader.Parse(data)
	if err != nil {
		return nil, err
	}
	return loader.Marshal(loader.Normalize(doc.Config))
}

func firstMessage(report *validate.Report, code string) string {
	for _, d := range report.Diagnostics {
		if d.Code == code {
			if d.Line > 0 {
				return fmt.Sprintf("line %d: %s", d.Line, d.Message)
			}
			return d.Message
		}
	}
	return code
}

func runInit(cmd *cobra.Command, args []string) error {
	path := "qtune.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, []byte(schema.Template), 0o644); err != nil {
		return fmt.Errorf("writing template: %w", err)
	}
	printInfo("Created %s", path)
	return nil
}

// writeFileAtomic replaces path through a temporary file in the same
// directory, keeping the original permissions.
func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
