package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boroughwatch/london-crime-etl/internal/config"
	"github.com/boroughwatch/london-crime-etl/internal/domain"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the alias maps and overlay files",
	Long: `validate loads the built-in alias maps plus any configured overlay
files (GEO_ALIAS_FILE, CATEGORY_ALIAS_FILE) and reports their contents.
Overlay mistakes, such as an alias pointing at an unknown canonical label,
fail the command. Run it after editing an overlay and before deploying it.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		geography := domain.DefaultGeographyAliases()
		major := domain.DefaultMajorAliases()
		minor := domain.DefaultMinorAliases()
		exclude := domain.DefaultExcludedGeographies()

		if cfg.GeoAliasFile != "" {
			extra, err := domain.LoadGeographyFile(cfg.GeoAliasFile, geography)
			if err != nil {
				return err
			}
			exclude = append(exclude, extra...)
			fmt.Printf("geography overlay %s: ok\n", cfg.GeoAliasFile)
		}
		if cfg.CategoryAliasFile != "" {
			if err := domain.LoadCategoryFile(cfg.CategoryAliasFile, major, minor); err != nil {
				return err
			}
			fmt.Printf("category overlay %s: ok\n", cfg.CategoryAliasFile)
		}

		fmt.Printf("geographies: %d canonical\n", len(geography.Canonicals()))
		fmt.Printf("major categories: %d canonical\n", len(major.Canonicals()))
		fmt.Printf("minor categories: %d canonical\n", len(minor.Canonicals()))
		fmt.Printf("excluded geographies: %d\n", len(exclude))

		// Excluded labels must not also be mapped: an exclusion that resolves
		// to a borough would silently drop that borough's rows.
		for _, label := range exclude {
			if resolved, ok := geography.Resolve(label); ok {
				return fmt.Errorf("excluded geography %q resolves to canonical borough %q", label, resolved)
			}
		}

		fmt.Println("alias maps valid")
		return nil
	},
}
