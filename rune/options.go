// Package rune is the embedding facade: Build a Unit from sources and a
// Context, then drive it with a Vm (spec §6 "Embedding API").
package rune

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rune-lang/rune/compile"
)

// Options mirrors the compiler's `k=v,k=v` option string (spec §6
// "Compiler options ... Option parsing accepts k=v,k=v from a string;
// unknown keys fail with a structured error").
type Options = compile.Options

// DefaultOptions mirrors the teacher corpus convention of a
// zero-value-safe constructor (see interp.Options / interp.New).
func DefaultOptions() Options { return compile.DefaultOptions() }

// ParseOptions parses a `k=v,k=v` string into Options, starting from
// DefaultOptions for any key left unspecified.
func ParseOptions(s string) (Options, error) {
	opts := DefaultOptions()
	if strings.TrimSpace(s) == "" {
		return opts, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			v = "true"
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if err := applyOption(&opts, k, v); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func applyOption(opts *Options, key, val string) error {
	switch key {
	case "link_checks":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		opts.LinkChecks = b
	case "memoize_instance_fn":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		opts.MemoizeInstanceFn = b
	case "debug_info":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		opts.DebugInfo = b
	case "macros":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		opts.Macros = b
	case "bytecode":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		opts.Bytecode = b
	case "function_body":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		opts.FunctionBody = b
	case "test_std":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		opts.TestStd = b
	case "print_tree":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		opts.PrintTree = b
	case "lowering":
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 || n > 3 {
			return fmt.Errorf("rune: option %q must be an integer in 0..3, got %q", key, val)
		}
		opts.Lowering = n
	case "max_macro_depth":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("rune: option %q must be an integer, got %q", key, val)
		}
		opts.MaxMacroDepth = n
	case "fmt.enabled":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		opts.FmtEnabled = b
	default:
		return fmt.Errorf("rune: unknown compiler option %q", key)
	}
	return nil
}

func parseBool(key, val string) (bool, error) {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("rune: option %q expects a boolean, got %q", key, val)
	}
	return b, nil
}

// FromDefaultEnv parses RUNEFLAGS exactly as ParseOptions parses the CLI
// -O string (spec §6 "RUNEFLAGS is parsed identically to the CLI -O
// string when Options::from_default_env is used").
func FromDefaultEnv() (Options, error) {
	return ParseOptions(os.Getenv("RUNEFLAGS"))
}
