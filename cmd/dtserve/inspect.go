package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/gnemet/datatables/database/dbpool"
	"github.com/gnemet/datatables/internal/aliases"
	"github.com/gnemet/datatables/internal/config"
	"github.com/gnemet/datatables/internal/server"
	"github.com/gnemet/datatables/internal/sqlselect"
)

func newInspectCommand() *cobra.Command {
	var (
		query string
		grid  string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show how a SELECT is analyzed and which aliases a grid accepts",
		Long: "Prints the select items, the FROM tables and the alias map of a query.\n" +
			"With --grid the query is compiled from the configuration and wildcards\n" +
			"are expanded against the grid's database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case grid != "":
				return inspectGrid(cmd.Context(), configPath, grid)
			case query != "":
				return inspect(cmd.Context(), query, nil)
			default:
				return errors.New("one of --sql or --grid is required")
			}
		},
	}
	cmd.Flags().StringVar(&query, "sql", "", "SELECT statement to analyze")
	cmd.Flags().StringVarP(&grid, "grid", "g", "", "Configured grid to analyze")
	return cmd
}

func inspectGrid(ctx context.Context, path, name string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	reg, err := server.NewRegistry(ctx, cfg, dbpool.Open)
	if err != nil {
		return err
	}
	defer reg.Close()

	g, ok := reg.Grid(name)
	if !ok {
		return fmt.Errorf("unknown grid %s", name)
	}
	b := g.Builder()
	return inspect(ctx, b.CompiledSelect(), b)
}

func inspect(ctx context.Context, query string, lookup aliases.SchemaLookup) error {
	a, err := sqlselect.Analyze(query)
	if err != nil {
		return err
	}

	pterm.DefaultSection.Println("Query")
	pterm.Println(query)

	pterm.DefaultSection.Println("Select items")
	items := pterm.TableData{{"#", "Type", "Key", "Alias", "Field"}}
	for i, c := range a.Columns {
		items = append(items, []string{fmt.Sprint(i), c.Type.String(), c.Key(), c.Alias, c.FieldName()})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(items).Render(); err != nil {
		return err
	}

	pterm.DefaultSection.Println("Tables")
	tables := pterm.TableData{{"Alias", "Table", "Derived"}}
	for _, t := range a.Tables.All() {
		tables = append(tables, []string{t.Alias, t.Name, fmt.Sprint(t.Derived)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(tables).Render(); err != nil {
		return err
	}

	m, err := aliases.Resolve(ctx, a, lookup)
	if err != nil {
		return err
	}
	pterm.DefaultSection.Println("Aliases")
	if m.Len() == 0 {
		pterm.Info.Println("no aliases")
		return nil
	}
	rows := pterm.TableData{{"Alias", "Expression"}}
	for _, k := range m.Keys() {
		rows = append(rows, []string{k, m.Resolve(k)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
