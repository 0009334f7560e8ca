package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"
	"github.com/tendant/merged-fields/pkg/entityfields"
	"github.com/tendant/merged-fields/pkg/entityfields/access"
	"github.com/tendant/merged-fields/pkg/entityfields/fixture"
	"github.com/tendant/merged-fields/pkg/entityfields/render"
	"github.com/tendant/merged-fields/pkg/entityfields/repo/memory"
	"gopkg.in/yaml.v3"
)

// NewRootCommand creates the fieldrender CLI
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fieldrender",
		Short: "Render entity reference fields from a YAML fixture",
		Long: `Render entity reference fields with their referenced entities merged in.

Entity types, entities, view displays and field definitions are read from a
YAML fixture and kept in memory.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("fixture", "f", "fixture.yaml", "YAML fixture file")
	rootCmd.PersistentFlags().StringP("output", "o", "yaml", "output format (yaml or json)")
	rootCmd.PersistentFlags().String("view-mode", entityfields.DefaultViewMode, "view mode of referenced entities")
	rootCmd.PersistentFlags().Bool("show-label", false, "keep the label of referenced entities")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log formatter diagnostics to stderr")

	rootCmd.AddCommand(NewRenderCommand())
	rootCmd.AddCommand(NewSummaryCommand())
	rootCmd.AddCommand(NewFormCommand())
	rootCmd.AddCommand(NewFieldsCommand())

	return rootCmd
}

// NewRenderCommand creates the render command
func NewRenderCommand() *cobra.Command {
	var langcode string
	var userID string
	var permissions []string

	cmd := &cobra.Command{
		Use:   "render <field> <target-id>...",
		Short: "Render the referenced entities of a field",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd)
			if err != nil {
				return err
			}
			field, err := env.field(args[0])
			if err != nil {
				return err
			}

			items := make(entityfields.FieldItems, 0, len(args)-1)
			for _, id := range args[1:] {
				items = append(items, entityfields.FieldItem{TargetID: id})
			}

			ctx := entityfields.WithAccount(cmd.Context(), entityfields.Account{ID: userID, Permissions: permissions})
			out := env.formatter.ViewElements(ctx, field, items, langcode)
			return writeOutput(cmd, out)
		},
	}

	cmd.Flags().StringVar(&langcode, "langcode", "", "language of the host entity")
	cmd.Flags().StringVar(&userID, "user", "", "viewer account id (anonymous when empty)")
	cmd.Flags().StringSliceVar(&permissions, "permission", []string{access.PermissionBypass}, "viewer permissions")

	return cmd
}

// NewSummaryCommand creates the summary command
func NewSummaryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <field>",
		Short: "Show the settings summary of a field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd)
			if err != nil {
				return err
			}
			field, err := env.field(args[0])
			if err != nil {
				return err
			}
			for _, line := range env.formatter.SettingsSummary(cmd.Context(), field) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

// NewFormCommand creates the form command
func NewFormCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "form <field>",
		Short: "Show the settings form of a field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd)
			if err != nil {
				return err
			}
			field, err := env.field(args[0])
			if err != nil {
				return err
			}
			form, err := env.formatter.SettingsForm(cmd.Context(), field)
			if err != nil {
				return fmt.Errorf("failed to build settings form: %w", err)
			}
			return writeOutput(cmd, form)
		},
	}
}

// NewFieldsCommand creates the fields command
func NewFieldsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List the fields of the fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(env.fixture.Fields))
			for _, field := range env.fixture.Fields {
				names = append(names, field.Name)
			}
			sort.Strings(names)
			for _, name := range names {
				field, _ := env.fixture.Field(name)
				applicable := ""
				if !entityfields.IsApplicable(field) {
					applicable = " (not applicable)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s%s\n", name, field.Type, applicable)
			}
			return nil
		},
	}
}

type environment struct {
	fixture   *fixture.Fixture
	formatter *entityfields.Formatter
}

func newEnvironment(cmd *cobra.Command) (*environment, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("fixture")
	viewMode, _ := flags.GetString("view-mode")
	showLabel, _ := flags.GetBool("show-label")
	verbose, _ := flags.GetBool("verbose")

	f, err := fixture.LoadFile(path)
	if err != nil {
		return nil, err
	}

	repo := memory.New()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := f.Apply(ctx, repo); err != nil {
		return nil, err
	}

	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	formatter, err := entityfields.New(
		entityfields.WithStorageResolver(repo),
		entityfields.WithDisplayRepository(repo),
		entityfields.WithEntityTypes(repo),
		entityfields.WithAccessChecker(access.New()),
		entityfields.WithRenderer(render.New(render.WithEntityTypes(repo))),
		entityfields.WithLogger(logger),
		entityfields.WithSettings(entityfields.Settings{ViewMode: viewMode, ShowEntityLabel: showLabel}),
		entityfields.WithHooks(entityfields.LoggingHook(logger)),
	)
	if err != nil {
		return nil, err
	}

	return &environment{fixture: f, formatter: formatter}, nil
}

func (e *environment) field(name string) (entityfields.FieldDefinition, error) {
	field, ok := e.fixture.Field(name)
	if !ok {
		return field, fmt.Errorf("field %q not found in fixture", name)
	}
	if !entityfields.IsApplicable(field) {
		return field, fmt.Errorf("field %q is a %s field, not an entity reference", name, field.Type)
	}
	return field, nil
}

func writeOutput(cmd *cobra.Command, v interface{}) error {
	format, _ := cmd.Flags().GetString("output")
	return encode(cmd.OutOrStdout(), format, v)
}

func encode(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
