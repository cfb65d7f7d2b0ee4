package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/ghost/pkg/bluegreen"
	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Manage apps",
}

var appImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an app from a YAML file",
	Long: `Import an app definition from a YAML file.

Examples:
  # Create a new app
  ghost app import -f app.yaml

  # Replace an existing app, keeping its id
  ghost app import -f app.yaml --update`,
	RunE: runAppImport,
}

var appShowCmd = &cobra.Command{
	Use:   "show [APP_ID]",
	Short: "Show one app as YAML, or list every app",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := setup(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			app, err := store.GetApp(args[0])
			if err != nil {
				return err
			}
			if err := yaml.NewEncoder(os.Stdout).Encode(app); err != nil {
				return err
			}
			if app.Color() == "" {
				return nil
			}
			twin, err := store.FindAlterEgo(app)
			if errors.Is(err, errdefs.ErrNotFound) {
				fmt.Println("# alter ego: none")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("# alter ego: %s (%s, online=%t)\n", twin.ID, twin.Color(), twin.BlueGreen.IsOnline)
			return nil
		}

		apps, err := store.ListApps()
		if err != nil {
			return fmt.Errorf("failed to list apps: %w", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tREGION\tAUTOSCALE\tMODULES")
		for _, app := range apps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
				app.ID, app.FriendlyName(), app.Region, app.AutoscaleName(), len(app.Modules))
		}
		return w.Flush()
	},
}

var appDeleteCmd = &cobra.Command{
	Use:   "delete APP_ID",
	Short: "Delete an app",
	Long: `Delete an app record. Its deployment history and packages are kept.

An app that is part of a blue/green pair is refused, the pair would be left
with a dangling alter ego.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := setup(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		app, err := store.GetApp(args[0])
		if err != nil {
			return err
		}
		if app.BlueGreen != nil && app.BlueGreen.AlterEgoID != "" {
			return fmt.Errorf("app %s is paired with %s for blue/green", app.ID, app.BlueGreen.AlterEgoID)
		}
		if err := store.DeleteApp(app.ID); err != nil {
			return fmt.Errorf("failed to delete app: %w", err)
		}
		fmt.Printf("✓ App %s deleted\n", app.ID)
		return nil
	},
}

var appEnableBlueGreenCmd = &cobra.Command{
	Use:   "enable-bluegreen APP_ID",
	Short: "Enable blue/green on an app by creating its offline twin",
	Long: `Enable blue/green on an app.

The app becomes the online side and an offline twin of the opposite color
is created as a copy of it. An existing app with the same name, env and role
and the opposite color is linked instead. Give the twin its own autoscaling
group before running preparebluegreen.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := setup(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		user, _ := cmd.Flags().GetString("user")
		coordinator := bluegreen.NewCoordinator(bluegreen.Config{Repo: store, Settings: cfg})
		twin, err := coordinator.Register(args[0], user)
		if err != nil {
			return err
		}
		fmt.Printf("Blue/green enabled: %s is the %s alter ego of %s\n", twin.ID, twin.Color(), args[0])
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect deployment history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the successful module deployments of an app",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := setup(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		appID, _ := cmd.Flags().GetString("app")
		records, err := store.ListDeployments(appID)
		if err != nil {
			return fmt.Errorf("failed to list deployments: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMODULE\tCOMMIT\tPACKAGE\tDEPLOYED")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.ID, rec.Module, rec.Commit, rec.Package,
				time.Unix(rec.Timestamp, 0).UTC().Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	appImportCmd.Flags().StringP("file", "f", "", "App YAML file (required)")
	appImportCmd.Flags().Bool("update", false, "Replace the app with the same id")
	_ = appImportCmd.MarkFlagRequired("file")

	appEnableBlueGreenCmd.Flags().String("user", "", "User recorded on the twin")

	historyListCmd.Flags().String("app", "", "App id (required)")
	_ = historyListCmd.MarkFlagRequired("app")

	appCmd.AddCommand(appImportCmd)
	appCmd.AddCommand(appShowCmd)
	appCmd.AddCommand(appDeleteCmd)
	appCmd.AddCommand(appEnableBlueGreenCmd)
	historyCmd.AddCommand(historyListCmd)
	rootCmd.AddCommand(appCmd)
	rootCmd.AddCommand(historyCmd)
}

func runAppImport(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	update, _ := cmd.Flags().GetBool("update")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	var app types.App
	if err := yaml.Unmarshal(data, &app); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	_, store, err := setup(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if update {
		if app.ID == "" {
			return fmt.Errorf("--update requires an id in %s", filename)
		}
		if _, err := store.UpdateApp(app.ID, func(current *types.App) error {
			next := app
			if err := next.Validate(); err != nil {
				return err
			}
			*current = next
			return nil
		}); err != nil {
			return fmt.Errorf("failed to update app: %w", err)
		}
		fmt.Printf("✓ App %s updated\n", app.ID)
		return nil
	}

	// Validate needs an id; the store assigns the real one
	probe := app
	if probe.ID == "" {
		probe.ID = "new"
	}
	if err := probe.Validate(); err != nil {
		return err
	}
	if err := store.CreateApp(&app); err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	fmt.Printf("✓ App %s created: %s\n", app.ID, app.FriendlyName())
	return nil
}
