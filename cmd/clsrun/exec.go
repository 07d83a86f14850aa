package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/objclass/goclass"
	"github.com/objclass/goclass/classes/echo"
	"github.com/objclass/goclass/memnative"
	"github.com/objclass/goclass/types"
	"github.com/objclass/goclass/wasmclass"
)

type execOptions struct {
	object     string
	input      string
	inputFile  string
	raw        bool
	dataDir    string
	wasm       string
	wasmExport string
	wasmFlags  string
}

func newExecCmd(a *app) *cobra.Command {
	var o execOptions
	cmd := &cobra.Command{
		Use:   "exec <method>",
		Short: "Call one method and write its output to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.exec(cmd, args[0], o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.object, "object", "o", "obj", "object the method runs against")
	f.StringVarP(&o.input, "input", "i", "", "method input")
	f.StringVar(&o.inputFile, "input-file", "", "read the method input from a file")
	f.BoolVar(&o.raw, "raw", false, "pass the input as raw bytes instead of a buffer")
	f.StringVar(&o.dataDir, "data-dir", "", "keep objects in a goleveldb database in this directory")
	f.StringVar(&o.wasm, "wasm", "", "register a WebAssembly guest under the method name")
	f.StringVar(&o.wasmExport, "wasm-export", "handle", "function the guest exports")
	f.StringVar(&o.wasmFlags, "wasm-flags", "rd", "flags of the guest method: rd, wr or rd|wr")
	return cmd
}

func newMethodsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List the built-in methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			class, _, err := a.class()
			if err != nil {
				return err
			}
			for _, name := range class.Methods() {
				flags, _ := class.Flags(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%s.%s\t%s\n", class.Name(), name, flags)
			}
			return nil
		},
	}
}

// class builds the class with the built-in methods.
func (a *app) class() (*goclass.Class, *prometheus.Registry, error) {
	opts := []goclass.Option{goclass.WithLogger(a.logger)}
	var reg *prometheus.Registry
	if ns := a.cfg.Class.MetricsNamespace; ns != "" {
		m := goclass.NewMetrics(ns)
		reg = prometheus.NewRegistry()
		if err := reg.Register(m.Collector()); err != nil {
			return nil, nil, err
		}
		opts = append(opts, goclass.WithMetrics(m))
	}
	class := goclass.NewClass(a.cfg.Class.Name, opts...)
	if err := echo.Register(class); err != nil {
		return nil, nil, err
	}
	return class, reg, nil
}

func (a *app) exec(cmd *cobra.Command, method string, o execOptions) error {
	ctx := context.Background()
	class, reg, err := a.class()
	if err != nil {
		return err
	}

	if o.wasm != "" {
		flags, err := parseFlags(o.wasmFlags)
		if err != nil {
			return err
		}
		code, err := os.ReadFile(o.wasm)
		if err != nil {
			return err
		}
		host, err := wasmclass.NewHost(ctx, wasmclass.WithLogger(a.logger))
		if err != nil {
			return err
		}
		defer host.Close(ctx)
		mod, err := host.Compile(ctx, code, o.wasmExport)
		if err != nil {
			return fmt.Errorf("loading %s: %w", o.wasm, err)
		}
		if err := mod.Register(class, method, flags); err != nil {
			return err
		}
	}

	input := []byte(o.input)
	if o.inputFile != "" {
		if input, err = os.ReadFile(o.inputFile); err != nil {
			return err
		}
	}

	rtOpts := []memnative.Option{memnative.WithLogger(a.logger)}
	if o.dataDir != "" {
		db, err := dbm.NewDB("objects", dbm.GoLevelDBBackend, o.dataDir)
		if err != nil {
			return fmt.Errorf("opening object store: %w", err)
		}
		rtOpts = append(rtOpts, memnative.WithDB(db))
	}
	rt, err := memnative.New(a.cfg.Native, rtOpts...)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.Exec(class, memnative.Request{Object: o.object, Method: method, Input: input, Raw: o.raw})
	if err != nil {
		return err
	}
	if _, err := cmd.OutOrStdout().Write(res.Output); err != nil {
		return err
	}
	a.logger.Debug().Str("object", o.object).Str("method", method).Stringer("status", res.Status).
		Uint64("log_dropped", rt.Dropped()).Msg("exec")
	a.reportMetrics(reg)

	if !res.Status.OK() {
		return fmt.Errorf("%s.%s returned %s", class.Name(), method, res.Status)
	}
	return nil
}

func (a *app) reportMetrics(reg *prometheus.Registry) {
	if reg == nil {
		return
	}
	families, err := reg.Gather()
	if err != nil {
		a.logger.Warn().Err(err).Msg("gathering metrics")
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			ev := a.logger.Info().Str("metric", mf.GetName())
			for _, lp := range m.GetLabel() {
				ev = ev.Str(lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				ev = ev.Float64("value", m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				ev = ev.Uint64("count", m.GetHistogram().GetSampleCount()).Float64("sum", m.GetHistogram().GetSampleSum())
			}
			ev.Msg("metric")
		}
	}
}

func parseFlags(s string) (types.MethodFlags, error) {
	var flags types.MethodFlags
	for _, part := range strings.Split(s, "|") {
		switch strings.TrimSpace(part) {
		case "rd":
			flags |= types.MethodRead
		case "wr":
			flags |= types.MethodWrite
		default:
			return 0, fmt.Errorf("unknown method flag %q", part)
		}
	}
	return flags, nil
}
