package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/go-arrower/livestore"
	"github.com/go-arrower/livestore/observe"
	"github.com/go-arrower/livestore/q"
	"github.com/go-arrower/livestore/repository"
	"github.com/go-arrower/livestore/todo"
)

var ErrTodoNotFound = errors.New("todo not found")

// Todo returns the root command of the todo CLI.
// Every sub command opens the store, does its work and closes the store again.
func Todo() *cobra.Command {
	app := &todoApp{vip: livestore.DefaultViper()}

	// the CLI does not export traces, unless configured
	app.vip.SetDefault("otel.host", "")
	app.vip.SetDefault("store.name", "todos")

	root := &cobra.Command{
		Use:           "todo",
		Short:         "Manage your todos",
		Long:          "Manage your todos, kept in a local store. Configure with --config or LIVESTORE_* variables.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&app.configFile, "config", "", "config file")
	root.PersistentFlags().String("dir", "", "directory of the store file")
	root.PersistentFlags().String("name", "", "name of the store")
	_ = app.vip.BindPFlag("store.dir", root.PersistentFlags().Lookup("dir"))
	_ = app.vip.BindPFlag("store.name", root.PersistentFlags().Lookup("name"))

	root.AddCommand(
		app.addCmd(),
		app.listCmd(),
		app.doneCmd(),
		app.renameCmd(),
		app.rmCmd(),
		app.clearCmd(),
		app.watchCmd(),
		Version("todo"),
	)

	return root
}

type todoApp struct {
	vip        *livestore.Viper
	configFile string
}

// run opens the store for the duration of fn.
func (app *todoApp) run(cmd *cobra.Command, fn func(ctx context.Context, dc *livestore.Container) error) error {
	if app.configFile != "" {
		app.vip.SetConfigFile(app.configFile)

		if err := app.vip.ReadInConfig(); err != nil {
			return fmt.Errorf("could not read config: %w", err)
		}
	}

	conf := &livestore.Config{}
	if err := app.vip.Unmarshal(conf); err != nil {
		return err //nolint:wrapcheck // descriptive already
	}

	ctx := cmd.Context()

	dc, err := livestore.InitialiseDefaultDependencies(ctx, conf, todo.Schema)
	if err != nil {
		return err //nolint:wrapcheck // descriptive already
	}

	if err := dc.Store.Healthy(); err != nil {
		_ = dc.Shutdown(context.WithoutCancel(ctx))

		return fmt.Errorf("could not open todos: %w", err)
	}

	return errors.Join(fn(ctx, dc), dc.Shutdown(context.WithoutCancel(ctx)))
}

func (app *todoApp) addCmd() *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a todo",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, func(ctx context.Context, dc *livestore.Container) error {
				td, err := todo.New(strings.Join(args, " "))
				if err != nil {
					return err //nolint:wrapcheck // shown to the user
				}

				td = td.WithPriority(priority)

				if err := livestore.NewRepository[todo.Todo](dc).Create(ctx, td); err != nil {
					return err //nolint:wrapcheck // shown to the user
				}

				fmt.Fprintln(cmd.OutOrStdout(), "added", td.ID)

				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "priority, higher is more important")

	return cmd
}

func (app *todoApp) listCmd() *cobra.Command {
	var (
		done, open bool
		sort       string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List todos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query, err := listQuery(done, open, sort)
			if err != nil {
				return err
			}

			return app.run(cmd, func(ctx context.Context, dc *livestore.Container) error {
				todos, err := livestore.NewViewRepository[todo.Todo](dc).Fetch(ctx, query)
				if err != nil {
					return err //nolint:wrapcheck // shown to the user
				}

				printTodos(cmd.OutOrStdout(), todos)

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&done, "done", false, "only completed todos")
	cmd.Flags().BoolVar(&open, "open", false, "only open todos")
	cmd.Flags().StringVar(&sort, "sort", string(todo.SortCreated), "sort by created or priority")
	cmd.MarkFlagsMutuallyExclusive("done", "open")

	return cmd
}

func (app *todoApp) doneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Complete a todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, func(ctx context.Context, dc *livestore.Container) error {
				repo := livestore.NewRepository[todo.Todo](dc)

				td, err := find(ctx, repo, args[0])
				if err != nil {
					return err
				}

				return repo.Update(ctx, td.Complete()) //nolint:wrapcheck // shown to the user
			})
		},
	}
}

func (app *todoApp) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a todo",
		Args:  cobra.MinimumNArgs(2), //nolint:mnd // id and title
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd, func(ctx context.Context, dc *livestore.Container) error {
				repo := livestore.NewRepository[todo.Todo](dc)

				td, err := find(ctx, repo, args[0])
				if err != nil {
					return err
				}

				td, err = td.Rename(strings.Join(args[1:], " "))
				if err != nil {
					return err //nolint:wrapcheck // shown to the user
				}

				return repo.Update(ctx, td) //nolint:wrapcheck // shown to the user
			})
		},
	}
}

func (app *todoApp) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Remove todos",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			todos := make([]todo.Todo, 0, len(args))

			for _, arg := range args {
				id, err := uuid.Parse(arg)
				if err != nil {
					return fmt.Errorf("%w: %s", ErrTodoNotFound, arg)
				}

				todos = append(todos, todo.Todo{ID: id})
			}

			return app.run(cmd, func(ctx context.Context, dc *livestore.Container) error {
				return livestore.NewRepository[todo.Todo](dc).BatchDelete(ctx, todos) //nolint:wrapcheck // shown to the user
			})
		},
	}
}

func (app *todoApp) clearCmd() *cobra.Command {
	var bulk bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all todos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.run(cmd, func(ctx context.Context, dc *livestore.Container) error {
				if bulk {
					dc.Config.Store.BulkDeleteAll = true
				}

				return livestore.NewRepository[todo.Todo](dc).DeleteAll(ctx) //nolint:wrapcheck // shown to the user
			})
		},
	}

	cmd.Flags().BoolVar(&bulk, "bulk", false, "delete with a single statement, bypassing per todo rules")

	return cmd
}

func (app *todoApp) watchCmd() *cobra.Command {
	var sort string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the todos every time they change, until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query, err := listQuery(false, false, sort)
			if err != nil {
				return err
			}

			// pick up changes of other processes, e.g. a todo add in another terminal
			app.vip.Set("store.watch_external", true)

			return app.run(cmd, func(ctx context.Context, dc *livestore.Container) error {
				sub, err := livestore.NewObserver[todo.Todo](dc).Subscribe(ctx, query)
				if err != nil {
					return err //nolint:wrapcheck // shown to the user
				}
				defer sub.Cancel()

				for snap := range sub.All(ctx) {
					printSnapshot(cmd.OutOrStdout(), snap)
				}

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sort, "sort", string(todo.SortCreated), "sort by created or priority")

	return cmd
}

func listQuery(done, open bool, sort string) (q.Query, error) {
	filter := todo.FilterAll
	if done {
		filter = todo.FilterDone
	}

	if open {
		filter = todo.FilterOpen
	}

	switch todo.SortKey(sort) {
	case todo.SortCreated, todo.SortPriority:
	default:
		return q.Query{}, fmt.Errorf("unknown sort %q, use created or priority", sort) //nolint:err113 // shown to the user
	}

	return todo.Query(filter, todo.SortKey(sort)), nil
}

func find(ctx context.Context, repo repository.Repository[todo.Todo], arg string) (todo.Todo, error) {
	if _, err := uuid.Parse(arg); err != nil {
		return todo.Todo{}, fmt.Errorf("%w: %s", ErrTodoNotFound, arg)
	}

	td, err := repo.FindByID(ctx, arg)
	if errors.Is(err, repository.ErrNotFound) {
		return td, fmt.Errorf("%w: %s", ErrTodoNotFound, arg)
	}

	return td, err //nolint:wrapcheck // shown to the user
}

var (
	doneColour     = color.New(color.FgGreen)
	openColour     = color.New(color.FgYellow)
	priorityColour = color.New(color.FgRed, color.Bold)
	idColour       = color.New(color.Faint)
)

func printTodos(w io.Writer, todos []todo.Todo) {
	if len(todos) == 0 {
		fmt.Fprintln(w, "nothing to do")

		return
	}

	for _, td := range todos {
		check := openColour.Sprint("[ ]")
		if td.Completed {
			check = doneColour.Sprint("[x]")
		}

		line := check + " " + td.Title
		if td.Priority > 0 {
			line += " " + priorityColour.Sprintf("!%d", td.Priority)
		}

		fmt.Fprintln(w, line, idColour.Sprint(td.ID))
	}
}

func printSnapshot(w io.Writer, snap observe.Snapshot[todo.Todo]) {
	if snap.Err != nil {
		fmt.Fprintf(w, "#%d error: %v\n", snap.Seq, snap.Err)

		return
	}

	fmt.Fprintf(w, "#%d %d todos\n", snap.Seq, len(snap.Records))
	printTodos(w, snap.Records)
}
