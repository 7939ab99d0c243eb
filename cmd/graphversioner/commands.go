package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"graphversioner/internal/core"
	"graphversioner/pkg/domain"
)

type runner struct {
	flags  globalFlags
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	r := &runner{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "graphversioner",
		Short:         "Versioned entity states on a property graph",
		Long:          `graphversioner keeps an immutable, linked history of states per entity with a CURRENT pointer and status intervals.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validateFormat(r.flags.output)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVar(&r.flags.configPath, "config", "", "path to a YAML config file (default ./graphversioner.yaml when present)")
	pf.StringVar(&r.flags.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	pf.StringVarP(&r.flags.output, "output", "o", formatJSON, "output format: json or yaml")
	pf.StringVar(&r.flags.metricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file on exit")

	root.AddCommand(
		r.createEntityCmd(),
		r.initCmd(),
		r.transitionCmd("update", "Record a new state whose properties replace the current ones", core.OpUpdate),
		r.transitionCmd("patch", "Record a new state overlaying properties on the current ones", core.OpPatch),
		r.retagCmd(),
		r.showCmd(),
		r.historyCmd(),
		r.intervalsCmd(),
		r.archiveCmd(),
		r.restoreCmd(),
	)
	return root
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// withApp opens the app, runs fn and renders its result.
func (r *runner) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) (any, error)) (err error) {
	ctx := cmd.Context()
	a, err := openApp(ctx, &r.flags, r.stderr)
	if err != nil {
		return err
	}
	defer func() {
		if ferr := a.flushMetrics(r.flags.metricsFile); ferr != nil && err == nil {
			err = ferr
		}
		if cerr := a.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close: %w", cerr)
		}
	}()
	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return render(r.stdout, r.flags.output, out)
}

func timestampFlag(cmd *cobra.Command, value int64) *int64 {
	if !cmd.Flags().Changed("at") {
		return nil
	}
	return &value
}

func (r *runner) createEntityCmd() *cobra.Command {
	var (
		labels []string
		props  []string
	)
	cmd := &cobra.Command{
		Use:   "create-entity",
		Short: "Create an entity with no state",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			properties, err := parseProperties(props)
			if err != nil {
				return err
			}
			return r.withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				id, _, err := a.svc.CreateEntity(ctx, core.CreateEntityRequest{Labels: parseLabels(labels), Properties: properties})
				return entityView{Entity: id}, err
			})
		},
	}
	cmd.Flags().StringSliceVarP(&labels, "label", "l", nil, "extra entity label (repeatable)")
	cmd.Flags().StringArrayVarP(&props, "prop", "p", nil, "entity property key=value (repeatable)")
	return cmd
}

func (r *runner) initCmd() *cobra.Command {
	var (
		labels       []string
		entityProps  []string
		stateProps   []string
		contextLabel string
		additional   string
		at           int64
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an entity with its first state and open its status interval",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ep, err := parseProperties(entityProps)
			if err != nil {
				return err
			}
			sp, err := parseProperties(stateProps)
			if err != nil {
				return err
			}
			req := core.InitRequest{
				EntityLabels:     parseLabels(labels),
				EntityProperties: ep,
				StateProperties:  sp,
				ContextLabel:     contextLabel,
				AdditionalLabel:  additional,
				Timestamp:        timestampFlag(cmd, at),
			}
			return r.withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				out, _, err := a.svc.Init(ctx, req)
				return initView{Entity: out.EntityID, State: out.StateID, Interval: out.IntervalID, Timestamp: out.Timestamp}, err
			})
		},
	}
	f := cmd.Flags()
	f.StringSliceVarP(&labels, "label", "l", nil, "extra entity label (repeatable)")
	f.StringArrayVar(&entityProps, "entity-prop", nil, "entity property key=value (repeatable)")
	f.StringArrayVarP(&stateProps, "prop", "p", nil, "state property key=value (repeatable)")
	f.StringVarP(&contextLabel, "context", "c", "", "status context of the opened interval")
	f.StringVar(&additional, "state-label", "", "additional label for the state")
	f.Int64Var(&at, "at", 0, "timestamp in epoch milliseconds (default now)")
	return cmd
}

func (r *runner) transitionCmd(use, short, op string) *cobra.Command {
	var (
		props        []string
		contextLabel string
		additional   string
		at           int64
	)
	cmd := &cobra.Command{
		Use:   use + " <entity-id>",
		Short: short,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			properties, err := parseProperties(props)
			if err != nil {
				return err
			}
			req := core.UpdateRequest{
				Entity:          entity,
				ContextLabel:    contextLabel,
				Properties:      properties,
				AdditionalLabel: additional,
				Timestamp:       timestampFlag(cmd, at),
			}
			return r.withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				apply := a.svc.Update
				if op == core.OpPatch {
					apply = a.svc.Patch
				}
				out, _, err := apply(ctx, req)
				return updateView{State: out.StateID, Previous: out.PreviousStateID, Timestamp: out.Timestamp, ClosedInterval: out.ClosedInterval}, err
			})
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&props, "prop", "p", nil, "state property key=value (repeatable)")
	f.StringVarP(&contextLabel, "context", "c", "", "context label of the transition")
	f.StringVar(&additional, "state-label", "", "additional label for the new state")
	f.Int64Var(&at, "at", 0, "timestamp in epoch milliseconds (default now)")
	return cmd
}

func (r *runner) retagCmd() *cobra.Command {
	var (
		contextLabel string
		at           int64
	)
	cmd := &cobra.Command{
		Use:   "retag <entity-id>",
		Short: "Close the current status interval and open one with a new context",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			req := core.RetagRequest{Entity: entity, ContextLabel: contextLabel, Timestamp: timestampFlag(cmd, at)}
			return r.withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				out, _, err := a.svc.Retag(ctx, req)
				return retagView{State: out.StateID, Interval: out.IntervalID, ClosedPrevious: out.ClosedPrevious, Timestamp: out.Timestamp}, err
			})
		},
	}
	cmd.Flags().StringVarP(&contextLabel, "context", "c", "", "new status context")
	cmd.Flags().Int64Var(&at, "at", 0, "timestamp in epoch milliseconds (default now)")
	return cmd
}

func (r *runner) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <entity-id>",
		Short: "Print the entity's current state",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			return r.withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				cur, ok, err := a.svc.CurrentState(ctx, entity)
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, domain.NotFoundError{Kind: "current state of entity", ID: int64(entity)}
				}
				return newStateView(cur.State, cur.Since), nil
			})
		},
	}
}

func (r *runner) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <entity-id>",
		Short: "Print the entity's states newest first",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			return r.withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				entries, err := a.svc.History(ctx, entity)
				if err != nil {
					return nil, err
				}
				out := make([]stateView, 0, len(entries))
				for _, e := range entries {
					out = append(out, newStateView(e.State, e.Since))
				}
				return out, nil
			})
		},
	}
}

func (r *runner) intervalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intervals <entity-id>",
		Short: "Print the entity's status intervals ordered by start",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			return r.withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				intervals, err := a.svc.Intervals(ctx, entity)
				if err != nil {
					return nil, err
				}
				return newIntervalViews(intervals), nil
			})
		},
	}
}

func (r *runner) archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive [key]",
		Short: "Write a snapshot of the whole graph to the configured blob store",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			}
			return r.withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				store, err := a.archiveStore(ctx)
				if err != nil {
					return nil, err
				}
				info, err := a.svc.ArchiveSnapshot(ctx, store, key)
				if err != nil {
					return nil, err
				}
				return newArchiveView(info, store.Driver()), nil
			})
		},
	}
}

func (r *runner) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <key>",
		Short: "Replace the graph with a validated archived snapshot",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app) (any, error) {
				store, err := a.archiveStore(ctx)
				if err != nil {
					return nil, err
				}
				snap, err := a.svc.RestoreSnapshot(ctx, store, args[0])
				if err != nil {
					return nil, err
				}
				return restoreView{Key: args[0], Nodes: len(snap.Nodes), Edges: len(snap.Edges)}, nil
			})
		},
	}
}
